// Package quota tracks daily usage of external providers, detects exhaustion, resets counters
// at provider-local midnight and pauses or resumes channels accordingly.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // provider zones must resolve without system tz database

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
)

// Store is the persistence needed by the quota manager
type Store interface {
	EnsureQuota(ctx context.Context, q domain.ProviderQuota) error
	GetQuota(ctx context.Context, provider string) (*domain.ProviderQuota, error)
	GetQuotas(ctx context.Context) ([]*domain.ProviderQuota, error)
	ChargeQuota(ctx context.Context, provider string, units int, at time.Time) (*domain.ProviderQuota, bool, error)
	MarkQuotaExhausted(ctx context.Context, provider string, at time.Time) (*domain.ProviderQuota, bool, error)
	ResetQuota(ctx context.Context, provider string, at, next time.Time) (bool, error)
	PauseChannel(ctx context.Context, id string, reason domain.PauseReason) error
	ResumePausedChannels(ctx context.Context, reason domain.PauseReason) ([]string, error)
}

// Recorder writes events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Provider defines the daily allowance of an external provider
type Provider struct {
	Name       string
	DailyLimit int
	Timezone   string // IANA zone, reset happens at local midnight
	AutoResume bool
}

// Params for the manager
type Params struct {
	Providers   []Provider
	Classifier  *Classifier
	IntervalMin int // clamp range of auto-adjusted publish interval, minutes
	IntervalMax int
	Now         func() time.Time
}

// Manager accounts provider usage and owns the reset job
type Manager struct {
	store      Store
	rec        Recorder
	classifier *Classifier
	providers  map[string]Provider
	locs       map[string]*time.Location
	intMin     int
	intMax     int
	now        func() time.Time

	mu sync.Mutex // serializes reset runs
}

// default safety range of auto-adjusted publish interval
const (
	DefaultIntervalMin = 15
	DefaultIntervalMax = 180
)

// NewManager makes a quota manager, all provider zones must be valid
func NewManager(store Store, rec Recorder, params Params) (*Manager, error) {
	res := &Manager{
		store:      store,
		rec:        rec,
		classifier: params.Classifier,
		providers:  make(map[string]Provider, len(params.Providers)),
		locs:       make(map[string]*time.Location, len(params.Providers)),
		intMin:     params.IntervalMin,
		intMax:     params.IntervalMax,
		now:        params.Now,
	}
	if res.classifier == nil {
		res.classifier = NewClassifier()
	}
	if res.intMin <= 0 {
		res.intMin = DefaultIntervalMin
	}
	if res.intMax <= 0 {
		res.intMax = DefaultIntervalMax
	}
	if res.intMin > res.intMax {
		return nil, fmt.Errorf("invalid interval range %d..%d", res.intMin, res.intMax)
	}
	if res.now == nil {
		res.now = time.Now
	}
	for _, p := range params.Providers {
		if p.Name == "" {
			return nil, errors.New("empty provider name")
		}
		if p.Timezone == "" {
			p.Timezone = "UTC"
		}
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q for provider %s: %w", p.Timezone, p.Name, err)
		}
		res.providers[p.Name] = p
		res.locs[p.Name] = loc
	}
	return res, nil
}

// Init registers configured providers in the store and applies any reset boundary passed while the
// process was down
func (m *Manager) Init(ctx context.Context) error {
	now := m.now()
	for _, p := range m.providers {
		loc := m.locs[p.Name]
		q := domain.ProviderQuota{
			Provider:   p.Name,
			DailyLimit: p.DailyLimit,
			LastReset:  PrevMidnight(now, loc),
			NextReset:  NextMidnight(now, loc),
			AutoResume: p.AutoResume,
			Timezone:   p.Timezone,
		}
		if err := m.store.EnsureQuota(ctx, q); err != nil {
			return fmt.Errorf("ensure quota %s: %w", p.Name, err)
		}
		log.Printf("[DEBUG] quota %s: limit %d, zone %s", p.Name, p.DailyLimit, p.Timezone)
	}
	if _, err := m.ResetDue(ctx); err != nil {
		return err
	}
	// resume channels left paused by a reset interrupted before resume
	if _, err := m.resumeIfClear(ctx, nil); err != nil {
		return err
	}
	return nil
}

// Charge consumes units of a provider quota. A charge crossing the limit marks the quota exhausted
// and records a warning event. Providers without configured quota are not accounted.
func (m *Manager) Charge(ctx context.Context, provider string, units int) (*domain.ProviderQuota, error) {
	if _, ok := m.providers[provider]; !ok {
		return nil, nil
	}
	q, crossed, err := m.store.ChargeQuota(ctx, provider, units, m.now())
	if err != nil {
		return nil, fmt.Errorf("charge %s: %w", provider, err)
	}
	if crossed {
		m.rec.Record(ctx, "", domain.SeverityWarn, domain.CatQuota,
			fmt.Sprintf("provider %s quota exhausted, used %d of %d", provider, q.Used, q.DailyLimit), quotaPayload(q))
	}
	return q, nil
}

// Check returns a quota failure for the first exhausted provider among given ones
func (m *Manager) Check(ctx context.Context, providers ...string) error {
	for _, p := range providers {
		if _, ok := m.providers[p]; !ok {
			continue
		}
		q, err := m.store.GetQuota(ctx, p)
		if err != nil {
			return fmt.Errorf("get quota %s: %w", p, err)
		}
		if q.Exhausted {
			return domain.Fail(domain.CatQuota, fmt.Errorf("provider %s until %s: %w", p,
				q.NextReset.UTC().Format(time.RFC3339), domain.ErrQuotaExhausted))
		}
	}
	return nil
}

// MarkExhausted handles a provider-reported exhaustion. The quota is forced into exhausted state and
// the channel, if given, is paused until the next reset.
func (m *Manager) MarkExhausted(ctx context.Context, provider, channelID string) error {
	if _, ok := m.providers[provider]; ok {
		q, crossed, err := m.store.MarkQuotaExhausted(ctx, provider, m.now())
		if err != nil {
			return fmt.Errorf("mark %s exhausted: %w", provider, err)
		}
		if crossed {
			m.rec.Record(ctx, channelID, domain.SeverityWarn, domain.CatQuota,
				fmt.Sprintf("provider %s reported quota exhaustion", provider), quotaPayload(q))
		}
	}
	if channelID == "" {
		return nil
	}
	if err := m.store.PauseChannel(ctx, channelID, domain.PauseQuota); err != nil {
		return fmt.Errorf("pause channel %s: %w", channelID, err)
	}
	m.rec.Record(ctx, channelID, domain.SeverityWarn, domain.CatQuota,
		fmt.Sprintf("channel paused, provider %s quota exhausted", provider), map[string]string{"provider": provider})
	return nil
}

// Classify maps a provider error to its class
func (m *Manager) Classify(provider string, err error) domain.ErrorClass {
	return m.classifier.Classify(provider, err)
}

// ClassifierFor returns a classification function bound to a provider
func (m *Manager) ClassifierFor(provider string) func(error) domain.ErrorClass {
	return m.classifier.For(provider)
}

// ClampInterval bounds an auto-adjusted publish interval to the configured safety range
func (m *Manager) ClampInterval(minutes int) int {
	return ClampInterval(minutes, m.intMin, m.intMax)
}

// ResetDue resets every quota whose boundary has passed and auto-resumes channels paused for quota
// once no quota remains exhausted. Returns ids of resumed channels.
func (m *Manager) ResetDue(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	quotas, err := m.store.GetQuotas(ctx)
	if err != nil {
		return nil, fmt.Errorf("get quotas: %w", err)
	}

	var reset []string
	autoResume := false
	for _, q := range quotas {
		if q.NextReset.After(now) {
			continue
		}
		next := NextMidnight(now, m.location(q))
		done, err := m.store.ResetQuota(ctx, q.Provider, now, next)
		if err != nil {
			return nil, fmt.Errorf("reset quota %s: %w", q.Provider, err)
		}
		if !done {
			continue
		}
		reset = append(reset, q.Provider)
		autoResume = autoResume || q.AutoResume
		m.rec.Record(ctx, "", domain.SeverityInfo, domain.CatQuota, fmt.Sprintf("provider %s quota reset", q.Provider),
			map[string]any{"provider": q.Provider, "next_reset": next.UTC()})
	}
	if !autoResume {
		return nil, nil
	}
	return m.resumeIfClear(ctx, reset)
}

// Run executes the reset job every interval until ctx is canceled
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	log.Printf("[INFO] quota reset job started, check every %v", every)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] quota reset job stopped")
			return
		case <-ticker.C:
			if _, err := m.ResetDue(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[WARN] quota reset failed: %v", err)
			}
		}
	}
}

func (m *Manager) resumeIfClear(ctx context.Context, reset []string) ([]string, error) {
	quotas, err := m.store.GetQuotas(ctx)
	if err != nil {
		return nil, fmt.Errorf("get quotas: %w", err)
	}
	for _, q := range quotas {
		if q.Exhausted {
			log.Printf("[DEBUG] quota %s still exhausted, channels stay paused", q.Provider)
			return nil, nil
		}
	}
	ids, err := m.store.ResumePausedChannels(ctx, domain.PauseQuota)
	if err != nil {
		return nil, fmt.Errorf("resume channels: %w", err)
	}
	for _, id := range ids {
		m.rec.Record(ctx, id, domain.SeverityInfo, domain.CatLifecycle, "channel resumed after quota reset",
			map[string]any{"providers": reset})
	}
	return ids, nil
}

func (m *Manager) location(q *domain.ProviderQuota) *time.Location {
	if loc, ok := m.locs[q.Provider]; ok {
		return loc
	}
	if loc, err := time.LoadLocation(q.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// NextMidnight returns the first local midnight strictly after t, in UTC
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.In(loc).Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, loc).UTC()
}

// PrevMidnight returns the local midnight starting the day of t, in UTC
func PrevMidnight(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.In(loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc).UTC()
}

// ClampInterval bounds minutes to [lo, hi]
func ClampInterval(minutes, lo, hi int) int {
	switch {
	case minutes < lo:
		return lo
	case minutes > hi:
		return hi
	}
	return minutes
}

func quotaPayload(q *domain.ProviderQuota) map[string]any {
	return map[string]any{
		"provider":   q.Provider,
		"used":       q.Used,
		"limit":      q.DailyLimit,
		"remaining":  q.Remaining,
		"next_reset": q.NextReset.UTC(),
	}
}

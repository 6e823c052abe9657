// Package feedback closes the loop from published videos back to generation: it refreshes
// platform metrics of recent items and periodically rewrites the channel strategy from the
// performance of the a/b arms.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/oauth2"

	"github.com/umputun/shortcast/pkg/cache"
	"github.com/umputun/shortcast/pkg/credential"
	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/llm"
	"github.com/umputun/shortcast/pkg/youtube"
)

// setting keys holding the last run instants
const (
	metricsRunKey  = "feedback.metrics_at"
	strategyRunKey = "feedback.strategy_at"
)

// Store is the subset of the store used by the feedback loop
type Store interface {
	GetChannels(ctx context.Context, activeOnly bool) ([]*domain.Channel, error)
	GetItems(ctx context.Context, filter domain.ItemFilter) ([]*domain.Item, error)
	UpdateItemMetrics(ctx context.Context, id string, m domain.Metrics) error
	SaveStrategy(ctx context.Context, st *domain.Strategy) error
	LatestStrategy(ctx context.Context, channelID string) (*domain.Strategy, error)
	MarkStrategyApplied(ctx context.Context, id int64) error
	UpdateChannelInterval(ctx context.Context, id string, minutes int) error
	GetQuota(ctx context.Context, provider string) (*domain.ProviderQuota, error)
	GetSettingTime(ctx context.Context, key string) (time.Time, error)
	SetSettingTime(ctx context.Context, key string, t time.Time) error
}

// Sessions provides credential sessions of channels
type Sessions interface {
	Acquire(ctx context.Context, channelID string) (*credential.Session, error)
}

// Analytics reads counters of published videos
type Analytics interface {
	Stats(ctx context.Context, ts oauth2.TokenSource, ids []string) (map[string]youtube.Stats, error)
	Retention(ctx context.Context, ts oauth2.TokenSource, id string, since, until time.Time) (*float64, error)
}

// Advisor produces style hints and the rationale of a strategy
type Advisor interface {
	AdviseStrategy(ctx context.Context, in llm.StrategyInput) (*llm.StrategyAdvice, error)
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Params of the loop
type Params struct {
	Cadence         time.Duration // metrics refresh, default 6h
	RewriteEvery    time.Duration // strategy rewrite, default 24h
	Tick            time.Duration // due check interval of Run, default 10m
	MetricsWindow   time.Duration // items published within are refreshed, default 7 days
	StrategyWindow  time.Duration // items published within feed the strategy, default 30 days
	MinSample       int           // published items required per arm, default 3
	ConfidenceFloor float64       // default floor for channels without own setting, 0.6
	IntervalMin     int           // clamp of recommended interval, default 15
	IntervalMax     int           // default 180
	Concurrency     int           // channels refreshed in parallel, default 4
	Now             func() time.Time
}

// Loop is the feedback loop
type Loop struct {
	store     Store
	sessions  Sessions
	analytics Analytics
	advisor   Advisor // optional
	cache     cache.Cache
	rec       Recorder
	params    Params
}

// New makes a feedback loop. A nil cache disables caching, nil advisor skips llm analysis.
func New(store Store, sessions Sessions, analytics Analytics, advisor Advisor, c cache.Cache, rec Recorder, params Params) *Loop {
	if params.Cadence <= 0 {
		params.Cadence = 6 * time.Hour
	}
	if params.RewriteEvery <= 0 {
		params.RewriteEvery = 24 * time.Hour
	}
	if params.Tick <= 0 {
		params.Tick = 10 * time.Minute
	}
	if params.MetricsWindow <= 0 {
		params.MetricsWindow = 7 * 24 * time.Hour
	}
	if params.StrategyWindow <= 0 {
		params.StrategyWindow = 30 * 24 * time.Hour
	}
	if params.MinSample <= 0 {
		params.MinSample = 3
	}
	if params.ConfidenceFloor <= 0 {
		params.ConfidenceFloor = 0.6
	}
	if params.IntervalMin <= 0 {
		params.IntervalMin = 15
	}
	if params.IntervalMax <= 0 {
		params.IntervalMax = 180
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 4
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Loop{store: store, sessions: sessions, analytics: analytics, advisor: advisor, cache: c, rec: rec, params: params}
}

// Run checks every tick whether metrics refresh or strategy rewrite is due, until ctx is done.
// Last run instants are kept in the store, so cadence survives restarts.
func (l *Loop) Run(ctx context.Context) {
	log.Printf("[INFO] feedback loop started, metrics every %v, strategy every %v", l.params.Cadence, l.params.RewriteEvery)
	ticker := time.NewTicker(l.params.Tick)
	defer ticker.Stop()
	for {
		if err := l.RunDue(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[WARN] feedback loop: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[DEBUG] feedback loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunDue runs metrics refresh and strategy rewrite if their cadence elapsed
func (l *Loop) RunDue(ctx context.Context) error {
	now := l.params.Now()
	due, err := l.due(ctx, metricsRunKey, l.params.Cadence, now)
	if err != nil {
		return err
	}
	if due {
		if err := l.RefreshMetrics(ctx); err != nil {
			return fmt.Errorf("refresh metrics: %w", err)
		}
		if err := l.store.SetSettingTime(ctx, metricsRunKey, now); err != nil {
			return fmt.Errorf("save metrics run time: %w", err)
		}
	}

	if due, err = l.due(ctx, strategyRunKey, l.params.RewriteEvery, now); err != nil || !due {
		return err
	}
	channels, err := l.store.GetChannels(ctx, true)
	if err != nil {
		return fmt.Errorf("get channels: %w", err)
	}
	for _, ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := l.RewriteStrategy(ctx, ch); err != nil && !errors.Is(err, ErrInsufficientSample) {
			log.Printf("[WARN] strategy rewrite for %s: %v", ch.ID, err)
		}
	}
	return l.store.SetSettingTime(ctx, strategyRunKey, now)
}

func (l *Loop) due(ctx context.Context, key string, every time.Duration, now time.Time) (bool, error) {
	last, err := l.store.GetSettingTime(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return last.IsZero() || now.Sub(last) >= every, nil
}

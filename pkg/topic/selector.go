// Package topic selects what a channel's next video is about: an approved trend, a strategy-biased
// or a descriptor-based llm proposal. Proposals are deduplicated against recent items of the channel
// and every selection is assigned to an a/b arm.
package topic

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/llm"
)

// Store is the subset of the store used by the selector
type Store interface {
	LatestStrategy(ctx context.Context, channelID string) (*domain.Strategy, error)
	GetTrends(ctx context.Context, filter domain.TrendFilter) ([]*domain.TrendCandidate, error)
	SetTrendFlag(ctx context.Context, id int64, flag domain.TrendFlag) error
}

// Generator proposes topics
type Generator interface {
	Topic(ctx context.Context, req llm.TopicRequest) (string, error)
}

// DuplicateChecker returns the normalized key of a proposed topic or an error wrapping ErrDuplicate.
// RecentTopics lists keys the proposals should stay away from.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, ch *domain.Channel, topic string) (string, error)
	RecentTopics(ctx context.Context, ch *domain.Channel) ([]string, error)
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Params of the selector
type Params struct {
	MaxAttempts     int                   // proposals per slot before giving up, default 3
	ConfidenceFloor float64               // default strategy confidence floor, 0.6 if zero
	Assign          func() domain.ABGroup // a/b assignment, fair coin if nil
	Pick            func(n int) int       // hook template choice, random if nil
}

// Selection is the generation input produced for a slot
type Selection struct {
	Topic        string
	TopicKey     string
	Format       domain.Format
	Plan         *domain.TrendPlan
	TrendID      *int64
	Group        domain.ABGroup
	Snapshot     *domain.StrategySnapshot
	Hints        *llm.Hints // nil unless strategy applied
	HookTemplate string
}

// Selector implements the topic priority rules
type Selector struct {
	store  Store
	gen    Generator
	dedup  DuplicateChecker
	rec    Recorder
	params Params
}

// NewSelector makes a selector
func NewSelector(store Store, gen Generator, dedup DuplicateChecker, rec Recorder, params Params) *Selector {
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 3
	}
	if params.ConfidenceFloor <= 0 {
		params.ConfidenceFloor = 0.6
	}
	if params.Assign == nil {
		params.Assign = Bernoulli
	}
	if params.Pick == nil {
		params.Pick = rand.IntN
	}
	return &Selector{store: store, gen: gen, dedup: dedup, rec: rec, params: params}
}

// Bernoulli assigns the strategy arm with probability 0.5
func Bernoulli() domain.ABGroup {
	if rand.IntN(2) == 0 { //nolint:gosec // not security sensitive
		return domain.GroupStrategy
	}
	return domain.GroupControl
}

// Select produces the topic for the next item of the channel
func (s *Selector) Select(ctx context.Context, ch *domain.Channel) (*Selection, error) {
	group := s.params.Assign()
	sel := &Selection{Format: ch.Format, Group: group,
		Snapshot: &domain.StrategySnapshot{Variant: group, Source: "descriptor"}}

	if ch.Format == domain.FormatTrend {
		ok, err := s.fromTrends(ctx, ch, sel)
		if err != nil {
			return nil, err
		}
		if ok {
			return sel, nil
		}
		log.Printf("[DEBUG] no usable trend for %s, generating topic", ch.ID)
	}

	if err := s.applyStrategy(ctx, ch, sel); err != nil {
		return nil, err
	}
	if err := s.generate(ctx, ch, sel); err != nil {
		return nil, err
	}
	return sel, nil
}

// fromTrends picks the most urgent approved trend not generated yet and not a duplicate
func (s *Selector) fromTrends(ctx context.Context, ch *domain.Channel, sel *Selection) (bool, error) {
	yes, no := true, false
	trends, err := s.store.GetTrends(ctx, domain.TrendFilter{Approved: &yes, Analyzed: &yes, Generated: &no,
		Limit: s.params.MaxAttempts * 3})
	if err != nil {
		return false, fmt.Errorf("get approved trends: %w", err)
	}
	for _, t := range trends {
		key, err := s.dedup.CheckDuplicate(ctx, ch, t.Topic)
		if errors.Is(err, ErrDuplicate) {
			log.Printf("[DEBUG] trend %d %q skipped for %s: %v", t.ID, t.Topic, ch.ID, err)
			continue
		}
		if err != nil {
			return false, err
		}
		if err := s.store.SetTrendFlag(ctx, t.ID, domain.TrendPlanned); err != nil {
			return false, fmt.Errorf("mark trend %d planned: %w", t.ID, err)
		}
		id := t.ID
		sel.Topic, sel.TopicKey, sel.TrendID, sel.Plan = t.Topic, key, &id, t.Plan
		if t.FormatRecommendation.Valid() {
			sel.Format = t.FormatRecommendation
		}
		sel.Snapshot.Source = "trend"
		sel.Snapshot.Confidence = t.Confidence
		s.rec.Record(ctx, ch.ID, domain.SeverityInfo, domain.CatTrend, fmt.Sprintf("selected trend %q", t.Topic),
			map[string]any{"trend_id": t.ID, "urgency": t.Urgency, "confidence": t.Confidence})
		return true, nil
	}
	return false, nil
}

// applyStrategy biases generation toward the latest strategy for the strategy arm when confident enough
func (s *Selector) applyStrategy(ctx context.Context, ch *domain.Channel, sel *Selection) error {
	st, err := s.store.LatestStrategy(ctx, ch.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest strategy: %w", err)
	}
	sel.Snapshot.StrategyID = st.ID
	sel.Snapshot.Confidence = st.Confidence
	if sel.Group != domain.GroupStrategy || st.Confidence < ch.ConfidenceFloor(s.params.ConfidenceFloor) {
		return nil
	}

	sel.Hints = &llm.Hints{Recommended: st.Recommended, Avoid: st.Avoid, StyleHints: st.StyleHints}
	if len(st.HookTemplates) > 0 {
		sel.HookTemplate = st.HookTemplates[s.params.Pick(len(st.HookTemplates))]
	}
	sel.Snapshot.Source = "strategy"
	sel.Snapshot.Applied = true
	sel.Snapshot.Recommended = st.Recommended
	sel.Snapshot.Avoided = st.Avoid
	sel.Snapshot.StyleHints = st.StyleHints
	sel.Snapshot.HookTemplate = sel.HookTemplate
	return nil
}

// generate asks the llm for topics until one passes dedup or attempts run out
func (s *Selector) generate(ctx context.Context, ch *domain.Channel, sel *Selection) error {
	recent, err := s.dedup.RecentTopics(ctx, ch)
	if err != nil {
		return err
	}
	if len(recent) > 20 {
		recent = recent[:20]
	}
	var rejected []string
	var lastErr error
	for attempt := 1; attempt <= s.params.MaxAttempts; attempt++ {
		proposal, err := s.gen.Topic(ctx, llm.TopicRequest{Descriptor: ch.Descriptor, Format: sel.Format,
			Hints: sel.Hints, Exclude: recent, Rejected: rejected})
		if err != nil {
			return fmt.Errorf("generate topic: %w", err)
		}
		key, err := s.dedup.CheckDuplicate(ctx, ch, proposal)
		if errors.Is(err, ErrDuplicate) {
			log.Printf("[INFO] topic %q for %s rejected, attempt %d/%d: %v", proposal, ch.ID, attempt,
				s.params.MaxAttempts, err)
			rejected = append(rejected, proposal)
			lastErr = err
			continue
		}
		if err != nil {
			return err
		}
		sel.Topic, sel.TopicKey = proposal, key
		return nil
	}
	s.rec.Record(ctx, ch.ID, domain.SeverityWarn, domain.CatDuplicateExhausted,
		fmt.Sprintf("no unique topic after %d attempts", s.params.MaxAttempts), map[string]any{"rejected": rejected})
	return domain.Fail(domain.CatDuplicateExhausted, fmt.Errorf("%v: %w", lastErr, domain.ErrDuplicateExhausted))
}

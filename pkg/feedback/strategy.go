package feedback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/llm"
	"github.com/umputun/shortcast/pkg/quota"
)

// ErrInsufficientSample is returned when an arm has fewer published items than required
var ErrInsufficientSample = errors.New("insufficient sample")

// interval rule thresholds, mean views per item
const (
	highViews = 25
	lowViews  = 10
)

// ArmStats are aggregated metrics of an a/b arm
type ArmStats struct {
	N              int
	MeanViews      float64
	MeanEngagement float64
}

// RewriteStrategy computes a new strategy from published items of the channel and saves it. The channel
// interval is updated when the strategy is confident enough and the channel opted in for it.
func (l *Loop) RewriteStrategy(ctx context.Context, ch *domain.Channel) (*domain.Strategy, error) {
	now := l.params.Now()
	items, err := l.store.GetItems(ctx, domain.ItemFilter{ChannelID: ch.ID, Statuses: []domain.ItemStatus{domain.StatusPublished},
		Since: now.Add(-l.params.StrategyWindow), Published: true})
	if err != nil {
		return nil, fmt.Errorf("get published items: %w", err)
	}
	var strat, ctrl []*domain.Item
	for _, it := range items {
		if it.Metrics.MetricsUpdatedAt == nil {
			continue
		}
		switch it.Group {
		case domain.GroupStrategy:
			strat = append(strat, it)
		case domain.GroupControl:
			ctrl = append(ctrl, it)
		}
	}
	if len(strat) < l.params.MinSample || len(ctrl) < l.params.MinSample {
		log.Printf("[DEBUG] strategy for %s skipped, %d strategy and %d control items", ch.ID, len(strat), len(ctrl))
		return nil, fmt.Errorf("%s has %d strategy and %d control items, %d required: %w", ch.ID, len(strat), len(ctrl),
			l.params.MinSample, ErrInsufficientSample)
	}

	sa, ca := Aggregate(strat), Aggregate(ctrl)
	viewsLift, engLift := Lift(sa.MeanViews, ca.MeanViews), Lift(sa.MeanEngagement, ca.MeanEngagement)
	all := append(append([]*domain.Item{}, strat...), ctrl...)
	top, bottom := SplitByMedian(all)

	st := &domain.Strategy{
		ChannelID:      ch.ID,
		Recommended:    topics(top),
		Avoid:          topics(bottom),
		ViewsLift:      viewsLift,
		EngagementLift: engLift,
		SampleStrategy: sa.N,
		SampleControl:  ca.N,
		Confidence:     Confidence(viewsLift, engLift, sa.N, ca.N),
		CreatedAt:      now,
	}
	st.IntervalMinutes = Interval(ch.IntervalMinutes, Aggregate(all).MeanViews, l.uploadQuotaTight(ctx),
		l.params.IntervalMin, l.params.IntervalMax)
	l.advise(ctx, ch, st, top, bottom)

	if err := l.store.SaveStrategy(ctx, st); err != nil {
		return nil, fmt.Errorf("save strategy: %w", err)
	}
	payload := map[string]any{"strategy_id": st.ID, "confidence": st.Confidence, "views_lift": viewsLift,
		"engagement_lift": engLift, "interval": st.IntervalMinutes}
	l.rec.Record(ctx, ch.ID, domain.SeverityInfo, domain.CatStrategy, fmt.Sprintf("strategy %d saved, confidence %.2f, "+
		"views lift %+.0f%%", st.ID, st.Confidence, viewsLift*100), payload)

	if st.Confidence < ch.ConfidenceFloor(l.params.ConfidenceFloor) || !ch.Flags.ApplyStrategyAuto {
		return st, nil
	}
	if st.IntervalMinutes != ch.IntervalMinutes {
		if err := l.store.UpdateChannelInterval(ctx, ch.ID, st.IntervalMinutes); err != nil {
			return st, fmt.Errorf("update interval of %s: %w", ch.ID, err)
		}
		l.rec.Record(ctx, ch.ID, domain.SeverityInfo, domain.CatStrategy, fmt.Sprintf("publish interval changed %d -> %d minutes",
			ch.IntervalMinutes, st.IntervalMinutes), payload)
	}
	if err := l.store.MarkStrategyApplied(ctx, st.ID); err != nil {
		return st, fmt.Errorf("mark strategy %d applied: %w", st.ID, err)
	}
	st.Applied = true
	return st, nil
}

// advise fills style hints, hook templates and rationale from the llm, previous strategy values are
// carried over if the advisor is missing or fails
func (l *Loop) advise(ctx context.Context, ch *domain.Channel, st *domain.Strategy, top, bottom []*domain.Item) {
	if prev, err := l.store.LatestStrategy(ctx, ch.ID); err == nil {
		st.StyleHints, st.HookTemplates = prev.StyleHints, prev.HookTemplates
	}
	if l.advisor == nil {
		return
	}
	advice, err := l.advisor.AdviseStrategy(ctx, llm.StrategyInput{Descriptor: ch.Descriptor, Top: samples(top),
		Bottom: samples(bottom), ViewsLift: st.ViewsLift, EngagementLift: st.EngagementLift})
	if err != nil {
		log.Printf("[WARN] strategy advice for %s failed, keeping previous hints: %v", ch.ID, err)
		return
	}
	if len(advice.StyleHints) > 0 {
		st.StyleHints = advice.StyleHints
	}
	if len(advice.HookTemplates) > 0 {
		st.HookTemplates = advice.HookTemplates
	}
	st.Rationale = advice.Rationale
}

// uploadQuotaTight reports whether the upload quota was exhausted within the last day
func (l *Loop) uploadQuotaTight(ctx context.Context) bool {
	q, err := l.store.GetQuota(ctx, domain.ProviderUpload)
	if err != nil || q == nil {
		return false
	}
	if q.Exhausted {
		return true
	}
	return q.ExhaustedAt != nil && l.params.Now().Sub(*q.ExhaustedAt) < 24*time.Hour
}

// Aggregate returns mean views and engagement of items
func Aggregate(items []*domain.Item) ArmStats {
	res := ArmStats{N: len(items)}
	if res.N == 0 {
		return res
	}
	for _, it := range items {
		res.MeanViews += float64(it.Metrics.Views)
		res.MeanEngagement += it.Metrics.Engagement()
	}
	res.MeanViews /= float64(res.N)
	res.MeanEngagement /= float64(res.N)
	return res
}

// Lift is the relative difference of the strategy arm against control. With zero control any
// positive strategy value is a full lift.
func Lift(strategy, control float64) float64 {
	if control == 0 {
		if strategy > 0 {
			return 1
		}
		return 0
	}
	return (strategy - control) / control
}

// Confidence weighs lift magnitude, sample size and engagement lift into [0, 1]
func Confidence(viewsLift, engagementLift float64, nStrategy, nControl int) float64 {
	n := float64(min(nStrategy, nControl))
	c := 0.5*math.Min(math.Abs(viewsLift)/0.5, 1) + 0.3*math.Min(n/5, 1) + 0.2*math.Min(math.Abs(engagementLift)/0.5, 1)
	return math.Round(c*1000) / 1000
}

// Interval recommends the publish interval: high average views halve it, low ones stretch it by half,
// a tight upload quota never lets it go below 1.5x current. Result is clamped to [lo, hi].
func Interval(current int, meanViews float64, quotaTight bool, lo, hi int) int {
	res := current
	switch {
	case meanViews >= highViews:
		res = current / 2
	case meanViews < lowViews:
		res = int(math.Ceil(float64(current) * 1.5))
	}
	if quotaTight {
		res = max(res, int(math.Ceil(float64(current)*1.5)))
	}
	return quota.ClampInterval(res, lo, hi)
}

// SplitByMedian returns items above and below the median views, best first and worst first
func SplitByMedian(items []*domain.Item) (above, below []*domain.Item) {
	if len(items) == 0 {
		return nil, nil
	}
	sorted := append([]*domain.Item{}, items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Metrics.Views > sorted[j].Metrics.Views })
	views := make([]float64, len(sorted))
	for i, it := range sorted {
		views[i] = float64(it.Metrics.Views)
	}
	var median float64
	if n := len(views); n%2 == 1 {
		median = views[n/2]
	} else {
		median = (views[n/2-1] + views[n/2]) / 2
	}
	for _, it := range sorted {
		if float64(it.Metrics.Views) > median {
			above = append(above, it)
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if float64(sorted[i].Metrics.Views) < median {
			below = append(below, sorted[i])
		}
	}
	return above, below
}

func topics(items []*domain.Item) []string {
	res := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, it := range items {
		if seen[it.TopicKey] {
			continue
		}
		seen[it.TopicKey] = true
		res = append(res, it.Topic)
		if len(res) == 10 {
			break
		}
	}
	return res
}

func samples(items []*domain.Item) []llm.PerformanceSample {
	res := make([]llm.PerformanceSample, 0, len(items))
	for _, it := range items {
		res = append(res, llm.PerformanceSample{Topic: it.Topic, Views: it.Metrics.Views, Engagement: it.Metrics.Engagement()})
	}
	return res
}

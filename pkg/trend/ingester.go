// Package trend ingests trending topics from an rss feed and plans them with the llm.
// Approved candidates are consumed by the topic selector of trend-driven channels.
package trend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/llm"
	"github.com/umputun/shortcast/pkg/repository"
	"github.com/umputun/shortcast/pkg/topic"
)

// DefaultFeedURL is the google trends daily feed, {region} is replaced by the region code
const DefaultFeedURL = "https://trends.google.com/trending/rss?geo={region}"

// plan limits accepted from the analyzer
const (
	minPlanSegments = 3
	maxPlanSegments = 10
	minPlanSeconds  = 20
	maxPlanSeconds  = 175
)

// Store is the subset of the store used by trend ingestion
type Store interface {
	GetChannels(ctx context.Context, activeOnly bool) ([]*domain.Channel, error)
	UpsertTrend(ctx context.Context, t *domain.TrendCandidate) (bool, error)
	GetTrends(ctx context.Context, filter domain.TrendFilter) ([]*domain.TrendCandidate, error)
	SaveTrendAnalysis(ctx context.Context, id int64, a repository.TrendAnalysis) error
	PruneTrends(ctx context.Context, before time.Time) (int64, error)
}

// Reader reads trend entries from a feed url
type Reader interface {
	Read(ctx context.Context, url string) ([]Entry, error)
}

// Analyzer decides whether a trend is worth a video and plans it
type Analyzer interface {
	AnalyzeTrend(ctx context.Context, in llm.TrendInput) (*llm.TrendVerdict, error)
}

// Extractor returns the text of an article page
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Params of the ingester
type Params struct {
	FeedURL       string        // may contain {region}, default DefaultFeedURL
	DefaultRegion string        // used when no active channel sets a region, default "US"
	Source        string        // source tag stored with candidates, default "trends"
	Interval      time.Duration // ingest period of Run, default 2h
	AnalyzeBatch  int           // candidates analyzed per run, default 10
	Concurrency   int           // parallel analyses, default 3
	MinConfidence float64       // approved verdicts below are rejected, default 0.5
	Retention     time.Duration // unplanned candidates older than this are pruned, default 7 days
	Now           func() time.Time
}

// Ingester fetches, stores and analyzes trend candidates
type Ingester struct {
	store     Store
	reader    Reader
	analyzer  Analyzer
	extractor Extractor // optional
	rec       Recorder
	params    Params
}

// New makes an ingester, nil extractor disables article context
func New(store Store, reader Reader, analyzer Analyzer, extractor Extractor, rec Recorder, params Params) *Ingester {
	if params.FeedURL == "" {
		params.FeedURL = DefaultFeedURL
	}
	if params.DefaultRegion == "" {
		params.DefaultRegion = "US"
	}
	if params.Source == "" {
		params.Source = "trends"
	}
	if params.Interval <= 0 {
		params.Interval = 2 * time.Hour
	}
	if params.AnalyzeBatch <= 0 {
		params.AnalyzeBatch = 10
	}
	if params.Concurrency <= 0 {
		params.Concurrency = 3
	}
	if params.MinConfidence <= 0 {
		params.MinConfidence = 0.5
	}
	if params.Retention <= 0 {
		params.Retention = 7 * 24 * time.Hour
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Ingester{store: store, reader: reader, analyzer: analyzer, extractor: extractor, rec: rec, params: params}
}

// Run ingests and analyzes trends immediately and then every interval, until ctx is done
func (g *Ingester) Run(ctx context.Context) {
	log.Printf("[INFO] trend ingestion started, every %v from %s", g.params.Interval, g.params.FeedURL)
	ticker := time.NewTicker(g.params.Interval)
	defer ticker.Stop()
	for {
		if err := g.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[WARN] trend ingestion: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[DEBUG] trend ingestion stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce makes a single ingest, analyze and prune pass
func (g *Ingester) RunOnce(ctx context.Context) error {
	created, ingestErr := g.Ingest(ctx)
	if ingestErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	analyzed, approved, err := g.Analyze(ctx)
	if err != nil {
		return errors.Join(ingestErr, fmt.Errorf("analyze trends: %w", err))
	}
	pruned, err := g.store.PruneTrends(ctx, g.params.Now().Add(-g.params.Retention))
	if err != nil {
		return errors.Join(ingestErr, fmt.Errorf("prune trends: %w", err))
	}
	if created > 0 || analyzed > 0 {
		g.rec.Record(ctx, "", domain.SeverityInfo, domain.CatTrend,
			fmt.Sprintf("trends: %d new, %d analyzed, %d approved, %d pruned", created, analyzed, approved, pruned),
			map[string]any{"created": created, "analyzed": analyzed, "approved": approved, "pruned": pruned})
	}
	return ingestErr
}

// Ingest reads the feed for every region of active channels and upserts the candidates.
// Returns the number of new candidates, error only if no region could be read.
func (g *Ingester) Ingest(ctx context.Context) (int, error) {
	regions, err := g.regions(ctx)
	if err != nil {
		return 0, err
	}
	created, failed := 0, 0
	var errs []error
	for _, region := range regions {
		url := strings.ReplaceAll(g.params.FeedURL, "{region}", region)
		entries, err := g.reader.Read(ctx, url)
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("region %s: %w", region, err))
			log.Printf("[WARN] can't read trends for %s: %v", region, err)
			continue
		}
		n, err := g.upsert(ctx, region, entries)
		created += n
		if err != nil {
			return created, err
		}
		log.Printf("[DEBUG] %d trends read for %s, %d new", len(entries), region, n)
	}
	if failed == len(regions) {
		err := errors.Join(errs...)
		g.rec.Record(ctx, "", domain.SeverityWarn, domain.CatTrend, fmt.Sprintf("trend feed unavailable: %v", err), nil)
		return created, err
	}
	return created, nil
}

func (g *Ingester) upsert(ctx context.Context, region string, entries []Entry) (int, error) {
	now := g.params.Now()
	created := 0
	for _, e := range entries {
		key := topic.Normalize(e.Topic)
		if key == "" {
			continue
		}
		t := &domain.TrendCandidate{Topic: e.Topic, TopicKey: key, Source: g.params.Source, Category: e.Category,
			Region: region, VolumeBucket: e.Volume, Link: e.Link, Summary: e.Summary, FetchedAt: now}
		ok, err := g.store.UpsertTrend(ctx, t)
		if err != nil {
			return created, fmt.Errorf("upsert trend %q: %w", e.Topic, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// regions returns distinct regions of active channels, the default one if none set
func (g *Ingester) regions(ctx context.Context) ([]string, error) {
	channels, err := g.store.GetChannels(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("get channels: %w", err)
	}
	seen := map[string]bool{}
	var res []string
	for _, ch := range channels {
		r := strings.ToUpper(strings.TrimSpace(ch.Flags.Region))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		res = append(res, r)
	}
	if len(res) == 0 {
		res = []string{strings.ToUpper(g.params.DefaultRegion)}
	}
	return res, nil
}

// Analyze runs the analyzer over a batch of not yet analyzed candidates. Failed analyses are
// left unanalyzed for the next run.
func (g *Ingester) Analyze(ctx context.Context) (analyzed, approved int, err error) {
	no := false
	pending, err := g.store.GetTrends(ctx, domain.TrendFilter{Analyzed: &no, Limit: g.params.AnalyzeBatch})
	if err != nil {
		return 0, 0, fmt.Errorf("get pending trends: %w", err)
	}
	var nAnalyzed, nApproved atomic.Int32
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.params.Concurrency)
	for _, t := range pending {
		eg.Go(func() error {
			a, err := g.analyze(egCtx, t)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				log.Printf("[WARN] can't analyze trend %q: %v", t.Topic, err)
				return nil
			}
			if err := g.store.SaveTrendAnalysis(egCtx, t.ID, a); err != nil {
				return fmt.Errorf("save analysis of trend %d: %w", t.ID, err)
			}
			nAnalyzed.Add(1)
			if a.Approved {
				nApproved.Add(1)
				log.Printf("[INFO] trend %q approved, format %s, urgency %s, confidence %.2f", t.Topic, a.Format,
					a.Urgency, a.Confidence)
			}
			return nil
		})
	}
	err = eg.Wait()
	return int(nAnalyzed.Load()), int(nApproved.Load()), err
}

func (g *Ingester) analyze(ctx context.Context, t *domain.TrendCandidate) (repository.TrendAnalysis, error) {
	in := llm.TrendInput{Topic: t.Topic, Category: t.Category, Region: t.Region, Volume: t.VolumeBucket, Summary: t.Summary}
	if g.extractor != nil && t.Link != "" {
		text, err := g.extractor.Extract(ctx, t.Link)
		if err != nil {
			log.Printf("[DEBUG] no article context for %q: %v", t.Topic, err)
		}
		in.Article = text
	}
	v, err := g.analyzer.AnalyzeTrend(ctx, in)
	if err != nil {
		return repository.TrendAnalysis{}, err
	}
	return Review(v, g.params.MinConfidence, g.params.Now()), nil
}

// Review turns a verdict into a stored analysis. Invalid formats fall back to trend-driven,
// a plan outside of segment or duration limits rejects the candidate.
func Review(v *llm.TrendVerdict, minConfidence float64, now time.Time) repository.TrendAnalysis {
	res := repository.TrendAnalysis{Approved: v.Approved, Format: v.Format, Urgency: v.Urgency, AnalyzedAt: now,
		Confidence: min(max(v.Confidence, 0), 1)}
	if !res.Format.Valid() {
		res.Format = domain.FormatTrend
	}
	if res.Urgency.Rank() == 0 {
		res.Urgency = domain.UrgencyLow
	}

	plan := domain.TrendPlan{Angle: strings.TrimSpace(v.Plan.Angle)}
	total := 0
	for _, s := range v.Plan.Segments {
		if strings.TrimSpace(s.Query) == "" {
			continue
		}
		if s.Duration <= 0 {
			s.Duration = 6
		}
		plan.Segments = append(plan.Segments, s)
		total += s.Duration
		if len(plan.Segments) == maxPlanSegments {
			break
		}
	}
	plan.SegmentCount = len(plan.Segments)
	if plan.SegmentCount > 0 {
		res.Plan = &plan
	}

	if res.Confidence < minConfidence {
		res.Approved = false
	}
	if res.Format == domain.FormatTrend && (plan.SegmentCount < minPlanSegments || total < minPlanSeconds ||
		total > maxPlanSeconds) {
		res.Approved = false
	}
	return res
}

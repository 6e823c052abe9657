package trend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/events"
	"github.com/umputun/shortcast/pkg/llm"
	"github.com/umputun/shortcast/pkg/repository"
	"github.com/umputun/shortcast/pkg/service"
)

func setupStore(t *testing.T) *service.StoreService {
	t.Helper()
	repos, err := repository.NewRepositories(context.Background(), repository.Config{DSN: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	return service.NewStoreService(repos)
}

func addChannel(t *testing.T, store *service.StoreService, id, region string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertCredential(ctx, &domain.Credential{ID: "cred-" + id, Account: id,
		Expiry: time.Now().Add(72 * time.Hour)}))
	require.NoError(t, store.CreateChannel(ctx, &domain.Channel{ID: id, Name: id, Format: domain.FormatTrend,
		IntervalMinutes: 60, Active: true, CredentialID: "cred-" + id, Flags: domain.ChannelFlags{Region: region}}))
}

type fakeReader struct {
	mu      sync.Mutex
	entries map[string][]Entry
	urls    []string
}

func (f *fakeReader) Read(_ context.Context, url string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	e, ok := f.entries[url]
	if !ok {
		return nil, errors.New("feed unavailable")
	}
	return e, nil
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	verdicts map[string]*llm.TrendVerdict
	inputs   []llm.TrendInput
}

func (f *fakeAnalyzer) AnalyzeTrend(_ context.Context, in llm.TrendInput) (*llm.TrendVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	v, ok := f.verdicts[in.Topic]
	if !ok {
		return nil, errors.New("bad response")
	}
	return v, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, url string) (string, error) {
	if url == "https://news.example.com/aurora" {
		return "solar storm pushed the aurora south", nil
	}
	return "", errors.New("not found")
}

func plan(n, secs int) domain.TrendPlan {
	res := domain.TrendPlan{Angle: "what causes it"}
	for range n {
		res.Segments = append(res.Segments, domain.PlanSegment{Query: "aurora sky", Duration: secs})
	}
	res.SegmentCount = n
	return res
}

func TestIngester_RunOnce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	addChannel(t, store, "ch1", "us")
	addChannel(t, store, "ch2", "GB")
	addChannel(t, store, "ch3", "")

	reader := &fakeReader{entries: map[string][]Entry{
		"https://feed.example.com/rss?geo=US": {
			{Topic: "aurora borealis", Volume: "500K+", Link: "https://news.example.com/aurora"},
			{Topic: "celebrity gossip", Volume: "100K+"},
			{Topic: "2024", Volume: "10K+"}, // normalizes to nothing
		},
		"https://feed.example.com/rss?geo=GB": {
			{Topic: "Aurora Borealis", Volume: "200K+"},
			{Topic: "deep sea volcano", Volume: "50K+", Link: "https://news.example.com/missing"},
		},
	}}
	analyzer := &fakeAnalyzer{verdicts: map[string]*llm.TrendVerdict{
		"aurora borealis":  {Approved: true, Format: domain.FormatTrend, Confidence: 0.8, Urgency: domain.UrgencyHigh, Plan: plan(5, 6)},
		"celebrity gossip": {Approved: false, Format: domain.FormatSequential, Confidence: 0.9, Urgency: domain.UrgencyLow},
	}}
	ing := New(store, reader, analyzer, fakeExtractor{}, events.NewRecorder(store),
		Params{FeedURL: "https://feed.example.com/rss?geo={region}"})

	require.NoError(t, ing.RunOnce(ctx))
	assert.ElementsMatch(t, []string{"https://feed.example.com/rss?geo=US", "https://feed.example.com/rss?geo=GB"}, reader.urls)

	all, err := store.GetTrends(ctx, domain.TrendFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3, "duplicate topic across regions stored once")

	yes := true
	approved, err := store.GetTrends(ctx, domain.TrendFilter{Approved: &yes})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "aurora borealis", approved[0].Topic)
	assert.Equal(t, domain.UrgencyHigh, approved[0].Urgency)
	require.NotNil(t, approved[0].Plan)
	assert.Equal(t, 5, approved[0].Plan.SegmentCount)

	no := false
	pending, err := store.GetTrends(ctx, domain.TrendFilter{Analyzed: &no})
	require.NoError(t, err)
	require.Len(t, pending, 1, "failed analysis left for the next run")
	assert.Equal(t, "deep sea volcano", pending[0].Topic)

	for _, in := range analyzer.inputs {
		if in.Topic == "aurora borealis" {
			assert.Equal(t, "solar storm pushed the aurora south", in.Article)
			assert.Equal(t, "500K+", in.Volume)
		}
		if in.Topic == "deep sea volcano" {
			assert.Empty(t, in.Article)
		}
	}

	evs, err := store.GetEvents(ctx, domain.EventFilter{Categories: []domain.Category{domain.CatTrend}})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "3 new, 2 analyzed, 1 approved")
}

func TestIngester_DefaultRegion(t *testing.T) {
	store := setupStore(t)
	reader := &fakeReader{entries: map[string][]Entry{"https://feed.example.com/DE": {{Topic: "black forest"}}}}
	ing := New(store, reader, &fakeAnalyzer{}, nil, events.NewRecorder(store),
		Params{FeedURL: "https://feed.example.com/{region}", DefaultRegion: "de"})
	n, err := ing.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"https://feed.example.com/DE"}, reader.urls)
}

func TestIngester_FeedUnavailable(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	ing := New(store, &fakeReader{}, &fakeAnalyzer{}, nil, events.NewRecorder(store), Params{})
	err := ing.RunOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unavailable")

	evs, err := store.GetEvents(ctx, domain.EventFilter{Categories: []domain.Category{domain.CatTrend}})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.SeverityWarn, evs[0].Severity)
}

func TestIngester_Prune(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := store.UpsertTrend(ctx, &domain.TrendCandidate{Topic: "old news", TopicKey: "old news",
		FetchedAt: now.Add(-10 * 24 * time.Hour)})
	require.NoError(t, err)

	reader := &fakeReader{entries: map[string][]Entry{"https://feed.example.com/US": {{Topic: "fresh topic"}}}}
	ing := New(store, reader, &fakeAnalyzer{}, nil, events.NewRecorder(store),
		Params{FeedURL: "https://feed.example.com/{region}", Now: func() time.Time { return now }})
	require.NoError(t, ing.RunOnce(ctx))

	all, err := store.GetTrends(ctx, domain.TrendFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "fresh topic", all[0].Topic)
}

func TestReview(t *testing.T) {
	now := time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)
	tbl := []struct {
		name         string
		verdict      llm.TrendVerdict
		wantApproved bool
		wantFormat   domain.Format
		wantUrgency  domain.Urgency
		wantSegments int
	}{
		{"valid trend plan", llm.TrendVerdict{Approved: true, Format: domain.FormatTrend, Confidence: 0.7,
			Urgency: domain.UrgencyMedium, Plan: plan(5, 6)}, true, domain.FormatTrend, domain.UrgencyMedium, 5},
		{"too few segments", llm.TrendVerdict{Approved: true, Format: domain.FormatTrend, Confidence: 0.7,
			Urgency: domain.UrgencyHigh, Plan: plan(2, 10)}, false, domain.FormatTrend, domain.UrgencyHigh, 2},
		{"too short", llm.TrendVerdict{Approved: true, Format: domain.FormatTrend, Confidence: 0.7,
			Urgency: domain.UrgencyHigh, Plan: plan(3, 5)}, false, domain.FormatTrend, domain.UrgencyHigh, 3},
		{"too many segments cut", llm.TrendVerdict{Approved: true, Format: domain.FormatTrend, Confidence: 0.7,
			Urgency: domain.UrgencyHigh, Plan: plan(14, 5)}, true, domain.FormatTrend, domain.UrgencyHigh, 10},
		{"low confidence", llm.TrendVerdict{Approved: true, Format: domain.FormatTrend, Confidence: 0.3,
			Urgency: domain.UrgencyHigh, Plan: plan(5, 6)}, false, domain.FormatTrend, domain.UrgencyHigh, 5},
		{"invalid format and urgency", llm.TrendVerdict{Approved: true, Format: "X", Confidence: 1.7,
			Urgency: "asap", Plan: plan(4, 6)}, true, domain.FormatTrend, domain.UrgencyLow, 4},
		{"sequential without plan", llm.TrendVerdict{Approved: true, Format: domain.FormatSequential, Confidence: 0.6,
			Urgency: domain.UrgencyLow}, true, domain.FormatSequential, domain.UrgencyLow, 0},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			res := Review(&tt.verdict, 0.5, now)
			assert.Equal(t, tt.wantApproved, res.Approved)
			assert.Equal(t, tt.wantFormat, res.Format)
			assert.Equal(t, tt.wantUrgency, res.Urgency)
			assert.LessOrEqual(t, res.Confidence, 1.0)
			assert.Equal(t, now, res.AnalyzedAt)
			if tt.wantSegments == 0 {
				assert.Nil(t, res.Plan)
				return
			}
			require.NotNil(t, res.Plan)
			assert.Equal(t, tt.wantSegments, res.Plan.SegmentCount)
			assert.Len(t, res.Plan.Segments, tt.wantSegments)
		})
	}
}

func TestReview_DropsEmptyQueries(t *testing.T) {
	v := &llm.TrendVerdict{Approved: true, Format: domain.FormatTrend, Confidence: 0.9, Urgency: domain.UrgencyHigh,
		Plan: domain.TrendPlan{SegmentCount: 5, Segments: []domain.PlanSegment{
			{Query: "lava flow", Duration: 8}, {Query: " "}, {Query: "ocean floor"}, {Query: "submarine", Duration: 7},
		}}}
	res := Review(v, 0.5, time.Now())
	require.NotNil(t, res.Plan)
	assert.Equal(t, 3, res.Plan.SegmentCount)
	assert.Equal(t, 6, res.Plan.Segments[1].Duration)
	assert.True(t, res.Approved, "3 segments, 21 seconds")
}

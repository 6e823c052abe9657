package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
)

func setupTestDB(t *testing.T) *Repositories {
	t.Helper()
	cfg := Config{
		DSN:             ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Second,
	}
	repos, err := NewRepositories(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	return repos
}

// createChannel adds a credential and an active channel using it
func createChannel(t *testing.T, repos *Repositories, id string) *domain.Channel {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repos.Credential.UpsertCredential(ctx, &domain.Credential{
		ID: "cred-" + id, Account: id + "@example.com", Expiry: time.Now().Add(48 * time.Hour),
	}))
	ch := &domain.Channel{
		ID:              id,
		Name:            "Channel " + id,
		Descriptor:      domain.Descriptor{Theme: "nature", Tone: "calm", Style: "documentary"},
		Format:          domain.FormatSequential,
		IntervalMinutes: 60,
		Active:          true,
		CredentialID:    "cred-" + id,
	}
	require.NoError(t, repos.Channel.CreateChannel(ctx, ch))
	return ch
}

func TestRepositories_Integration(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Ping(ctx))
	require.NoError(t, repos.IntegrityCheck(ctx))

	ch := createChannel(t, repos, "ch1")

	got, err := repos.Channel.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Channel ch1", got.Name)
	assert.Equal(t, "calm", got.Descriptor.Tone)
	assert.True(t, got.Active)

	item := &domain.Item{ChannelID: ch.ID, Topic: "Desert Landscapes", TopicKey: "desert landscape",
		Format: domain.FormatSequential, ScheduledAt: time.Now().Add(time.Hour), Group: domain.GroupControl,
		Snapshot: &domain.StrategySnapshot{Variant: domain.GroupControl, Source: "descriptor"}}
	require.NoError(t, repos.Item.CreateItem(ctx, item))
	assert.NotEmpty(t, item.ID)

	require.NoError(t, repos.Event.AppendEvent(ctx, &domain.Event{ChannelID: ch.ID, Severity: domain.SeverityInfo,
		Category: domain.CatGeneration, Message: "started"}))

	// migrate again on a populated store
	require.NoError(t, repos.Migrate(ctx))
	items, err := repos.Item.GetItems(ctx, domain.ItemFilter{ChannelID: ch.ID})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNewRepositories_InvalidDSN(t *testing.T) {
	cfg := Config{
		DSN: "invalid://database/url",
	}

	_, err := NewRepositories(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRepositories_Close(t *testing.T) {
	cfg := Config{
		DSN:             ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Second,
	}

	repos, err := NewRepositories(context.Background(), cfg)
	require.NoError(t, err)

	// close should not error
	assert.NoError(t, repos.Close())

	// second close should not error
	assert.NoError(t, repos.Close())
}

func TestEventRepository(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	createChannel(t, repos, "ch1")

	base := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, repos.Event.AppendEvent(ctx, &domain.Event{ChannelID: "ch1", Timestamp: base.Add(time.Duration(i) * 12 * time.Hour),
			Severity: domain.SeverityError, Category: domain.CatEncoder, Message: fmt.Sprintf("fail %d", i),
			Payload: []byte(`{"attempt":1}`)}))
	}
	require.NoError(t, repos.Event.AppendEvent(ctx, &domain.Event{Severity: domain.SeverityInfo, Category: domain.CatLifecycle,
		Message: "global"}))

	t.Run("list newest first", func(t *testing.T) {
		events, err := repos.Event.GetEvents(ctx, domain.EventFilter{ChannelID: "ch1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "fail 4", events[0].Message)
		assert.JSONEq(t, `{"attempt":1}`, string(events[0].Payload))
	})

	t.Run("global events", func(t *testing.T) {
		events, err := repos.Event.GetEvents(ctx, domain.EventFilter{Categories: []domain.Category{domain.CatLifecycle}})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].ChannelID)
	})

	t.Run("count by category within window", func(t *testing.T) {
		counts, err := repos.Event.CountByCategory(ctx, time.Now().Add(-24*time.Hour), nil)
		require.NoError(t, err)
		require.Len(t, counts, 1)
		assert.Equal(t, domain.CategoryCount{ChannelID: "ch1", Category: domain.CatEncoder, Count: 2}, counts[0])
	})

	t.Run("invalid payload rejected", func(t *testing.T) {
		err := repos.Event.AppendEvent(ctx, &domain.Event{Category: domain.CatLifecycle, Payload: []byte("{bad")})
		require.Error(t, err)
	})

	t.Run("prune by age", func(t *testing.T) {
		n, err := repos.Event.PruneEvents(ctx, time.Now().Add(-30*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		events, err := repos.Event.GetEvents(ctx, domain.EventFilter{ChannelID: "ch1"})
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})
}

func TestStrategyRepository(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	createChannel(t, repos, "ch1")

	_, err := repos.Strategy.LatestStrategy(ctx, "ch1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	first := &domain.Strategy{ChannelID: "ch1", Recommended: []string{"volcano"}, IntervalMinutes: 60, Confidence: 0.3}
	require.NoError(t, repos.Strategy.SaveStrategy(ctx, first))
	second := &domain.Strategy{ChannelID: "ch1", Recommended: []string{"desert", "canyon"}, Avoid: []string{"city"},
		StyleHints: []string{"fast cuts"}, IntervalMinutes: 30, Confidence: 0.8, Rationale: "strategy arm wins"}
	require.NoError(t, repos.Strategy.SaveStrategy(ctx, second))

	latest, err := repos.Strategy.LatestStrategy(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, []string{"desert", "canyon"}, latest.Recommended)
	assert.Equal(t, []string{"city"}, latest.Avoid)
	assert.Equal(t, 30, latest.IntervalMinutes)

	require.NoError(t, repos.Strategy.MarkApplied(ctx, second.ID))
	history, err := repos.Strategy.GetStrategies(ctx, "ch1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Applied)
	assert.False(t, history[1].Applied)

	require.Error(t, repos.Strategy.SaveStrategy(ctx, &domain.Strategy{ChannelID: "ch1", Confidence: 1.5}))
}

func TestTrendRepository(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	tr := &domain.TrendCandidate{Topic: "Volcanic Lakes", TopicKey: "volcanic lake", Source: "rss", VolumeBucket: "10K+"}
	created, err := repos.Trend.UpsertTrend(ctx, tr)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &domain.TrendCandidate{Topic: "volcanic lakes!", TopicKey: "volcanic lake", Source: "rss", VolumeBucket: "50K+"}
	created, err = repos.Trend.UpsertTrend(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tr.ID, dup.ID)

	other := &domain.TrendCandidate{Topic: "Deep Sea Vents", TopicKey: "deep sea vent", Source: "rss"}
	_, err = repos.Trend.UpsertTrend(ctx, other)
	require.NoError(t, err)

	notAnalyzed := false
	pending, err := repos.Trend.GetTrends(ctx, domain.TrendFilter{Analyzed: &notAnalyzed})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	plan := &domain.TrendPlan{SegmentCount: 6, Segments: []domain.PlanSegment{{Query: "lake", Duration: 8}}}
	require.NoError(t, repos.Trend.SaveAnalysis(ctx, tr.ID, TrendAnalysis{Approved: true, Format: domain.FormatTrend,
		Confidence: 0.7, Urgency: domain.UrgencyMedium, Plan: plan}))
	require.NoError(t, repos.Trend.SaveAnalysis(ctx, other.ID, TrendAnalysis{Approved: true, Format: domain.FormatTrend,
		Confidence: 0.5, Urgency: domain.UrgencyHigh, Plan: plan}))

	approved, notPlanned := true, false
	ready, err := repos.Trend.GetTrends(ctx, domain.TrendFilter{Approved: &approved, Generated: &notPlanned})
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, other.ID, ready[0].ID, "higher urgency first")
	require.NotNil(t, ready[1].Plan)
	assert.Equal(t, 6, ready[1].Plan.SegmentCount)
	assert.Equal(t, "50K+", ready[1].VolumeBucket)

	require.NoError(t, repos.Trend.SetFlag(ctx, tr.ID, domain.TrendPlanned))
	require.NoError(t, repos.Trend.SetFlag(ctx, tr.ID, domain.TrendPlanned), "raising a raised flag is fine")
	got, err := repos.Trend.GetTrend(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, got.Planned)
	assert.False(t, got.Generated)

	// flags cannot be lowered even with raw sql
	_, err = repos.DB.ExecContext(ctx, "UPDATE trends SET planned = 0 WHERE id = ?", tr.ID)
	require.Error(t, err)

	n, err := repos.Trend.PruneTrends(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "planned trend kept")
}

func TestCredentialRepository(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	exp := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, repos.Credential.UpsertCredential(ctx, &domain.Credential{ID: "c1", Account: "a@b.c", Expiry: exp,
		TokenPath: "/tokens/c1.json"}))

	ok, err := repos.Credential.BeginRefresh(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repos.Credential.BeginRefresh(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok, "second refresh must not start")

	newExp := exp.Add(time.Hour)
	require.NoError(t, repos.Credential.MarkRefreshed(ctx, "c1", newExp, time.Now()))
	c, err := repos.Credential.GetCredential(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialFresh, c.State)
	assert.True(t, newExp.Equal(c.Expiry))
	assert.NotNil(t, c.LastRefreshAt)

	require.NoError(t, repos.Credential.SetState(ctx, "c1", domain.CredentialRevoked, "user revoked"))
	require.ErrorIs(t, repos.Credential.MarkRefreshed(ctx, "c1", newExp, time.Now()), domain.ErrNotFound)

	all, err := repos.Credential.GetCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "user revoked", all[0].LastError)
}

func TestSettingRepository(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	v, err := repos.Setting.GetSetting(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	at := time.Date(2024, 5, 11, 7, 0, 0, 0, time.UTC)
	require.NoError(t, repos.Setting.SetTime(ctx, "strategy:ch1", at))
	got, err := repos.Setting.GetTime(ctx, "strategy:ch1")
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	zero, err := repos.Setting.GetTime(ctx, "none")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestCriticalError(t *testing.T) {
	originalErr := fmt.Errorf("test error message")
	critErr := &criticalError{err: originalErr}

	assert.Equal(t, "test error message", critErr.Error())
	assert.ErrorIs(t, critErr, errCritical)
	assert.ErrorIs(t, critErr, originalErr)
}

func TestIsLockError(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.False(t, isLockError(nil))
	})

	t.Run("sqlite busy error", func(t *testing.T) {
		assert.True(t, isLockError(fmt.Errorf("SQLITE_BUSY: database is busy")))
	})

	t.Run("database locked error", func(t *testing.T) {
		assert.True(t, isLockError(fmt.Errorf("database is locked")))
	})

	t.Run("non-lock error", func(t *testing.T) {
		assert.False(t, isLockError(fmt.Errorf("syntax error")))
	})
}

func TestStoreErr(t *testing.T) {
	assert.NoError(t, storeErr("op", nil))
	assert.ErrorIs(t, storeErr("op", errors.New("database disk image is malformed")), domain.ErrStoreCorrupt)
	assert.ErrorIs(t, storeErr("op", errors.New("unable to open database file")), domain.ErrStoreUnavailable)
	err := storeErr("op", errors.New("constraint failed"))
	assert.NotErrorIs(t, err, domain.ErrStoreCorrupt)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRetryWrite_StopsOnCriticalError(t *testing.T) {
	calls := 0
	err := retryWrite(context.Background(), "op", func() error {
		calls++
		return errors.New("constraint failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = retryWrite(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestStringsSQL_Value(t *testing.T) {
	var s stringsSQL
	v, err := s.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = stringsSQL{"a", "b"}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, v.(string))
}

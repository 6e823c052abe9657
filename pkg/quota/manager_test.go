package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/events"
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

func addChannel(t *testing.T, store *service.StoreService, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertCredential(ctx, &domain.Credential{ID: "cred-" + id, Account: id,
		Expiry: time.Now().Add(72 * time.Hour)}))
	require.NoError(t, store.CreateChannel(ctx, &domain.Channel{ID: id, Name: id, Format: domain.FormatSequential,
		IntervalMinutes: 60, Active: true, CredentialID: "cred-" + id}))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestManager_ExhaustionAndAutoResume(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	addChannel(t, store, "ch1")

	clk := &clock{t: time.Date(2024, 5, 10, 20, 0, 0, 0, time.UTC)}
	m, err := NewManager(store, events.NewRecorder(store), Params{
		Providers: []Provider{{Name: domain.ProviderUpload, DailyLimit: 10000, Timezone: "Etc/GMT+7", AutoResume: true}},
		Now:       clk.now,
	})
	require.NoError(t, err)
	require.NoError(t, m.Init(ctx))

	q, err := store.GetQuota(ctx, domain.ProviderUpload)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 11, 7, 0, 0, 0, time.UTC), q.NextReset.UTC())
	assert.Equal(t, time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC), q.LastReset.UTC())

	// provider reports exhaustion on upload
	clk.t = time.Date(2024, 5, 10, 22, 15, 0, 0, time.UTC)
	require.NoError(t, m.MarkExhausted(ctx, domain.ProviderUpload, "ch1"))

	q, err = store.GetQuota(ctx, domain.ProviderUpload)
	require.NoError(t, err)
	assert.True(t, q.Exhausted)
	assert.Equal(t, 0, q.Remaining)
	require.NotNil(t, q.ExhaustedAt)
	assert.Equal(t, clk.t, q.ExhaustedAt.UTC())

	ch, err := store.GetChannel(ctx, "ch1")
	require.NoError(t, err)
	assert.False(t, ch.Active)
	assert.Equal(t, domain.PauseQuota, ch.PauseReason)

	err = m.Check(ctx, domain.ProviderLLM, domain.ProviderUpload)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
	assert.Equal(t, domain.CatQuota, domain.CategoryOf(err))

	// one second before local midnight nothing happens
	clk.t = time.Date(2024, 5, 11, 6, 59, 59, 0, time.UTC)
	resumed, err := m.ResetDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, resumed)

	clk.t = time.Date(2024, 5, 11, 7, 0, 0, 0, time.UTC)
	resumed, err = m.ResetDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ch1"}, resumed)

	q, err = store.GetQuota(ctx, domain.ProviderUpload)
	require.NoError(t, err)
	assert.False(t, q.Exhausted)
	assert.Equal(t, 0, q.Used)
	assert.Equal(t, 10000, q.Remaining)
	assert.Equal(t, time.Date(2024, 5, 12, 7, 0, 0, 0, time.UTC), q.NextReset.UTC())

	ch, err = store.GetChannel(ctx, "ch1")
	require.NoError(t, err)
	assert.True(t, ch.Active)
	assert.Equal(t, domain.PauseNone, ch.PauseReason)

	// second run in the same window is a no-op
	clk.t = clk.t.Add(time.Minute)
	resumed, err = m.ResetDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, resumed)

	evs, err := store.GetEvents(ctx, domain.EventFilter{ChannelID: "ch1", Categories: []domain.Category{domain.CatLifecycle}})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "channel resumed after quota reset", evs[0].Message)
}

func TestManager_Charge(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m, err := NewManager(store, events.NewRecorder(store), Params{
		Providers: []Provider{{Name: domain.ProviderUpload, DailyLimit: 10000, Timezone: "America/Los_Angeles"}},
	})
	require.NoError(t, err)
	require.NoError(t, m.Init(ctx))

	for i := 0; i < 6; i++ {
		q, err := m.Charge(ctx, domain.ProviderUpload, 1600)
		require.NoError(t, err)
		assert.False(t, q.Exhausted)
	}
	require.NoError(t, m.Check(ctx, domain.ProviderUpload))

	q, err := m.Charge(ctx, domain.ProviderUpload, 1600)
	require.NoError(t, err)
	assert.True(t, q.Exhausted)
	assert.Equal(t, q.DailyLimit, q.Used+q.Remaining)

	evs, err := store.GetEvents(ctx, domain.EventFilter{Categories: []domain.Category{domain.CatQuota}})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.SeverityWarn, evs[0].Severity)
	assert.Contains(t, evs[0].Message, "used 11200 of 10000")

	// not configured provider is not accounted
	q, err = m.Charge(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestManager_ExhaustedProviderBlocksResume(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	addChannel(t, store, "ch1")

	clk := &clock{t: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(store, events.NewRecorder(store), Params{
		Providers: []Provider{
			{Name: domain.ProviderUpload, DailyLimit: 10000, Timezone: "UTC", AutoResume: true},
			{Name: domain.ProviderLLM, DailyLimit: 100, Timezone: "America/New_York", AutoResume: true},
		},
		Now: clk.now,
	})
	require.NoError(t, err)
	require.NoError(t, m.Init(ctx))

	require.NoError(t, m.MarkExhausted(ctx, domain.ProviderUpload, "ch1"))
	require.NoError(t, m.MarkExhausted(ctx, domain.ProviderLLM, ""))

	// upload resets at utc midnight, llm at new york midnight
	clk.t = time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)
	resumed, err := m.ResetDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, resumed, "llm resets at 04:00Z")

	ch, err := store.GetChannel(ctx, "ch1")
	require.NoError(t, err)
	assert.False(t, ch.Active)

	clk.t = time.Date(2024, 5, 11, 4, 0, 0, 0, time.UTC)
	resumed, err = m.ResetDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ch1"}, resumed)
}

func TestNewManager_Errors(t *testing.T) {
	_, err := NewManager(nil, nil, Params{Providers: []Provider{{Name: "x", Timezone: "Mars/Olympus"}}})
	require.Error(t, err)
	_, err = NewManager(nil, nil, Params{Providers: []Provider{{Name: ""}}})
	require.Error(t, err)
	_, err = NewManager(nil, nil, Params{IntervalMin: 100, IntervalMax: 50})
	require.Error(t, err)
}

func TestNextMidnight(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	tests := []struct {
		name string
		at   time.Time
		loc  *time.Location
		want time.Time
	}{
		{"pdt", time.Date(2024, 5, 10, 22, 15, 0, 0, time.UTC), la, time.Date(2024, 5, 11, 7, 0, 0, 0, time.UTC)},
		{"pst", time.Date(2024, 1, 10, 22, 15, 0, 0, time.UTC), la, time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC)},
		{"exactly midnight moves forward", time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), time.UTC, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)},
		{"utc", time.Date(2024, 5, 10, 23, 59, 0, 0, time.UTC), time.UTC, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextMidnight(tt.at, tt.loc))
		})
	}
	assert.Equal(t, time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC), PrevMidnight(time.Date(2024, 5, 10, 22, 15, 0, 0, time.UTC), la))
}

func TestClampInterval(t *testing.T) {
	assert.Equal(t, 15, ClampInterval(5, 15, 180))
	assert.Equal(t, 180, ClampInterval(240, 15, 180))
	assert.Equal(t, 30, ClampInterval(30, 15, 180))

	m, err := NewManager(nil, nil, Params{})
	require.NoError(t, err)
	assert.Equal(t, 15, m.ClampInterval(1))
	assert.Equal(t, 180, m.ClampInterval(1000))
	assert.Equal(t, domain.ClassAuth, m.Classify(domain.ProviderLLM, errors.New("401 unauthorized")))
}

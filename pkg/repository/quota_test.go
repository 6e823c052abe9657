package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/shortcast/pkg/domain"
)

func TestQuotaRepository_ChargeAndReset(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	lastReset := time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC)
	nextReset := time.Date(2024, 5, 11, 7, 0, 0, 0, time.UTC)
	require.NoError(t, repos.Quota.EnsureQuota(ctx, domain.ProviderQuota{Provider: domain.ProviderUpload, DailyLimit: 10000,
		LastReset: lastReset, NextReset: nextReset, AutoResume: true, Timezone: "America/Los_Angeles"}))

	checkInvariant := func(q *domain.ProviderQuota) {
		assert.Equal(t, q.DailyLimit, q.Used+q.Remaining)
		assert.Equal(t, q.Remaining <= 0, q.Exhausted)
	}

	at := time.Date(2024, 5, 10, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		q, crossed, err := repos.Quota.Charge(ctx, domain.ProviderUpload, 1600, at)
		require.NoError(t, err)
		assert.False(t, crossed)
		checkInvariant(q)
	}
	q, crossed, err := repos.Quota.Charge(ctx, domain.ProviderUpload, 1600, at)
	require.NoError(t, err)
	assert.True(t, crossed, "seventh upload exceeds the allowance")
	checkInvariant(q)
	assert.Equal(t, 11200, q.Used)
	require.NotNil(t, q.ExhaustedAt)
	assert.True(t, at.Equal(*q.ExhaustedAt))

	q, crossed, err = repos.Quota.Charge(ctx, domain.ProviderUpload, 1600, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, crossed, "already exhausted")
	assert.True(t, at.Equal(*q.ExhaustedAt), "exhaustion instant kept")

	// not due yet
	done, err := repos.Quota.Reset(ctx, domain.ProviderUpload, nextReset.Add(-time.Second), nextReset.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, done)

	done, err = repos.Quota.Reset(ctx, domain.ProviderUpload, nextReset, nextReset.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, done)
	done, err = repos.Quota.Reset(ctx, domain.ProviderUpload, nextReset.Add(time.Minute), nextReset.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, done, "second reset in the same window is a no-op")

	q, err = repos.Quota.GetQuota(ctx, domain.ProviderUpload)
	require.NoError(t, err)
	checkInvariant(q)
	assert.Equal(t, 0, q.Used)
	assert.False(t, q.Exhausted)
	assert.Nil(t, q.ExhaustedAt)
	assert.True(t, nextReset.Add(24*time.Hour).Equal(q.NextReset))
}

func TestQuotaRepository_MarkExhaustedAndEnsure(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repos.Quota.EnsureQuota(ctx, domain.ProviderQuota{Provider: domain.ProviderLLM, DailyLimit: 100,
		LastReset: now, NextReset: now.Add(12 * time.Hour)}))
	_, _, err := repos.Quota.Charge(ctx, domain.ProviderLLM, 10, now)
	require.NoError(t, err)

	q, crossed, err := repos.Quota.MarkExhausted(ctx, domain.ProviderLLM, now)
	require.NoError(t, err)
	assert.True(t, crossed)
	assert.Equal(t, 100, q.Used)
	assert.Equal(t, 0, q.Remaining)
	assert.True(t, q.Exhausted)

	// raising the limit keeps used and lifts exhaustion
	require.NoError(t, repos.Quota.EnsureQuota(ctx, domain.ProviderQuota{Provider: domain.ProviderLLM, DailyLimit: 200,
		LastReset: now, NextReset: now.Add(12 * time.Hour)}))
	q, err = repos.Quota.GetQuota(ctx, domain.ProviderLLM)
	require.NoError(t, err)
	assert.Equal(t, 100, q.Used)
	assert.Equal(t, 100, q.Remaining)
	assert.False(t, q.Exhausted)
	assert.Equal(t, "UTC", q.Timezone)

	_, _, err = repos.Quota.Charge(ctx, "unknown", 1, now)
	require.ErrorIs(t, err, domain.ErrNotFound)

	all, err := repos.Quota.GetQuotas(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

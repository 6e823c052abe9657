package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/shortcast/pkg/domain"
)

// QuotaRepository handles provider quota counters.
// All counter updates keep remaining = daily_limit - used and exhausted = remaining <= 0
// in a single statement, the table CHECK constraints reject anything else.
type QuotaRepository struct {
	db *sqlx.DB
}

type quotaSQL struct {
	Provider    string     `db:"provider"`
	DailyLimit  int        `db:"daily_limit"`
	Used        int        `db:"used"`
	Remaining   int        `db:"remaining"`
	LastReset   time.Time  `db:"last_reset"`
	NextReset   time.Time  `db:"next_reset"`
	Exhausted   bool       `db:"exhausted"`
	ExhaustedAt *time.Time `db:"exhausted_at"`
	AutoResume  bool       `db:"auto_resume"`
	Timezone    string     `db:"timezone"`
}

const quotaColumns = `provider, daily_limit, used, remaining, last_reset, next_reset, exhausted,
	exhausted_at, auto_resume, timezone`

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *sqlx.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// EnsureQuota registers a provider or updates its limit and reset settings, keeping the used counter
func (r *QuotaRepository) EnsureQuota(ctx context.Context, q domain.ProviderQuota) error {
	if q.Timezone == "" {
		q.Timezone = "UTC"
	}
	return retryWrite(ctx, "ensure quota "+q.Provider, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO provider_quotas (`+quotaColumns+`)
			VALUES (?, ?, 0, ?, ?, ?, ?, NULL, ?, ?)
			ON CONFLICT(provider) DO UPDATE SET
				daily_limit = excluded.daily_limit,
				remaining = excluded.daily_limit - provider_quotas.used,
				exhausted = (excluded.daily_limit - provider_quotas.used) <= 0,
				exhausted_at = CASE
					WHEN (excluded.daily_limit - provider_quotas.used) > 0 THEN NULL
					ELSE COALESCE(provider_quotas.exhausted_at, excluded.last_reset) END,
				next_reset = CASE
					WHEN provider_quotas.timezone != excluded.timezone THEN excluded.next_reset
					ELSE provider_quotas.next_reset END,
				auto_resume = excluded.auto_resume,
				timezone = excluded.timezone`,
			q.Provider, q.DailyLimit, q.DailyLimit, ts(q.LastReset), ts(q.NextReset), q.DailyLimit <= 0,
			q.AutoResume, q.Timezone)
		return err
	})
}

// GetQuota returns the quota of a provider
func (r *QuotaRepository) GetQuota(ctx context.Context, provider string) (*domain.ProviderQuota, error) {
	var row quotaSQL
	if err := r.db.GetContext(ctx, &row, "SELECT "+quotaColumns+" FROM provider_quotas WHERE provider = ?", provider); err != nil {
		return nil, storeErr("get quota "+provider, err)
	}
	return row.toDomain(), nil
}

// GetQuotas returns all provider quotas
func (r *QuotaRepository) GetQuotas(ctx context.Context) ([]*domain.ProviderQuota, error) {
	var rows []quotaSQL
	if err := r.db.SelectContext(ctx, &rows, "SELECT "+quotaColumns+" FROM provider_quotas ORDER BY provider"); err != nil {
		return nil, storeErr("get quotas", err)
	}
	res := make([]*domain.ProviderQuota, len(rows))
	for i := range rows {
		res[i] = rows[i].toDomain()
	}
	return res, nil
}

// Charge consumes units of a provider quota. Returns the updated quota and whether this charge
// moved the quota into exhaustion.
func (r *QuotaRepository) Charge(ctx context.Context, provider string, units int, at time.Time) (*domain.ProviderQuota, bool, error) {
	return r.update(ctx, "charge quota "+provider, provider, `
		UPDATE provider_quotas SET
			used = used + ?1,
			remaining = daily_limit - (used + ?1),
			exhausted = (daily_limit - (used + ?1)) <= 0,
			exhausted_at = CASE
				WHEN exhausted = 0 AND (daily_limit - (used + ?1)) <= 0 THEN ?2
				ELSE exhausted_at END
		WHERE provider = ?3`, units, ts(at), provider)
}

// MarkExhausted forces a provider quota into exhaustion after the provider reported it,
// returns whether the quota was not exhausted before
func (r *QuotaRepository) MarkExhausted(ctx context.Context, provider string, at time.Time) (*domain.ProviderQuota, bool, error) {
	return r.update(ctx, "mark quota exhausted "+provider, provider, `
		UPDATE provider_quotas SET
			used = MAX(used, daily_limit),
			remaining = daily_limit - MAX(used, daily_limit),
			exhausted = 1,
			exhausted_at = CASE WHEN exhausted = 0 THEN ?1 ELSE exhausted_at END
		WHERE provider = ?2`, ts(at), provider)
}

// Reset clears the counter of a provider if its reset boundary has passed, setting the next boundary.
// Returns false without changes when the quota is not due, so repeated calls within a window are no-ops.
func (r *QuotaRepository) Reset(ctx context.Context, provider string, at, next time.Time) (bool, error) {
	var done bool
	err := retryWrite(ctx, "reset quota "+provider, func() error {
		res, err := r.db.ExecContext(ctx, `
			UPDATE provider_quotas SET
				used = 0,
				remaining = daily_limit,
				exhausted = daily_limit <= 0,
				exhausted_at = CASE WHEN daily_limit <= 0 THEN ?1 ELSE NULL END,
				last_reset = ?1,
				next_reset = ?2
			WHERE provider = ?3 AND next_reset <= ?1`, ts(at), ts(next), provider)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		done = n > 0
		return nil
	})
	return done, err
}

// update runs a counter update in a transaction and reports the exhaustion edge
func (r *QuotaRepository) update(ctx context.Context, op, provider, query string, args ...interface{}) (*domain.ProviderQuota, bool, error) {
	var after quotaSQL
	var crossed bool
	err := retryWrite(ctx, op, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var wasExhausted bool
		if err := tx.GetContext(ctx, &wasExhausted, "SELECT exhausted FROM provider_quotas WHERE provider = ?", provider); err != nil {
			return storeErr("get quota", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &after, "SELECT "+quotaColumns+" FROM provider_quotas WHERE provider = ?", provider); err != nil {
			return err
		}
		crossed = !wasExhausted && after.Exhausted
		return tx.Commit()
	})
	if err != nil {
		return nil, false, err
	}
	return after.toDomain(), crossed, nil
}

func (q *quotaSQL) toDomain() *domain.ProviderQuota {
	return &domain.ProviderQuota{
		Provider:    q.Provider,
		DailyLimit:  q.DailyLimit,
		Used:        q.Used,
		Remaining:   q.Remaining,
		LastReset:   q.LastReset,
		NextReset:   q.NextReset,
		Exhausted:   q.Exhausted,
		ExhaustedAt: q.ExhaustedAt,
		AutoResume:  q.AutoResume,
		Timezone:    q.Timezone,
	}
}

package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/shortcast/pkg/domain"
)

// CredentialRepository handles credential state rows
type CredentialRepository struct {
	db *sqlx.DB
}

type credentialSQL struct {
	ID            string     `db:"id"`
	Account       string     `db:"account"`
	State         string     `db:"state"`
	Expiry        *time.Time `db:"expiry"`
	TokenPath     string     `db:"token_path"`
	LastRefreshAt *time.Time `db:"last_refresh_at"`
	LastError     string     `db:"last_error"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

const credentialColumns = "id, account, state, expiry, token_path, last_refresh_at, last_error, updated_at"

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// UpsertCredential creates or replaces a credential row
func (r *CredentialRepository) UpsertCredential(ctx context.Context, c *domain.Credential) error {
	if c.State == "" {
		c.State = domain.CredentialFresh
	}
	c.UpdatedAt = time.Now().UTC()
	var expiry *time.Time
	if !c.Expiry.IsZero() {
		expiry = tsPtr(&c.Expiry)
	}
	return retryWrite(ctx, "upsert credential "+c.ID, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET account = excluded.account, state = excluded.state,
				expiry = excluded.expiry, token_path = excluded.token_path,
				last_refresh_at = excluded.last_refresh_at, last_error = excluded.last_error,
				updated_at = excluded.updated_at`,
			c.ID, c.Account, string(c.State), expiry, c.TokenPath, tsPtr(c.LastRefreshAt), c.LastError, c.UpdatedAt)
		return err
	})
}

// GetCredential returns a credential by id
func (r *CredentialRepository) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	var row credentialSQL
	if err := r.db.GetContext(ctx, &row, "SELECT "+credentialColumns+" FROM credentials WHERE id = ?", id); err != nil {
		return nil, storeErr("get credential "+id, err)
	}
	return row.toDomain(), nil
}

// GetCredentials returns all credentials
func (r *CredentialRepository) GetCredentials(ctx context.Context) ([]*domain.Credential, error) {
	var rows []credentialSQL
	if err := r.db.SelectContext(ctx, &rows, "SELECT "+credentialColumns+" FROM credentials ORDER BY id"); err != nil {
		return nil, storeErr("get credentials", err)
	}
	res := make([]*domain.Credential, len(rows))
	for i := range rows {
		res[i] = rows[i].toDomain()
	}
	return res, nil
}

// BeginRefresh moves a fresh credential to refreshing, returns false if another refresh holds it
// or the credential is in a terminal state
func (r *CredentialRepository) BeginRefresh(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := retryWrite(ctx, "begin refresh "+id, func() error {
		res, err := r.db.ExecContext(ctx,
			"UPDATE credentials SET state = 'refreshing', updated_at = ? WHERE id = ? AND state = 'fresh'",
			ts(time.Now()), id)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		ok = n > 0
		return err
	})
	return ok, err
}

// MarkRefreshed records a successful refresh and moves the credential back to fresh
func (r *CredentialRepository) MarkRefreshed(ctx context.Context, id string, expiry, at time.Time) error {
	return retryWrite(ctx, "mark refreshed "+id, func() error {
		res, err := r.db.ExecContext(ctx, `
			UPDATE credentials SET state = 'fresh', expiry = ?, last_refresh_at = ?, last_error = '', updated_at = ?
			WHERE id = ? AND state IN ('fresh', 'refreshing')`,
			ts(expiry), ts(at), ts(at), id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// SetState sets the credential state with the last error message
func (r *CredentialRepository) SetState(ctx context.Context, id string, state domain.CredentialState, lastErr string) error {
	return retryWrite(ctx, "set credential state "+id, func() error {
		res, err := r.db.ExecContext(ctx,
			"UPDATE credentials SET state = ?, last_error = ?, updated_at = ? WHERE id = ?",
			string(state), truncate(lastErr, 1000), ts(time.Now()), id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

func (c *credentialSQL) toDomain() *domain.Credential {
	res := &domain.Credential{
		ID:            c.ID,
		Account:       c.Account,
		State:         domain.CredentialState(c.State),
		TokenPath:     c.TokenPath,
		LastRefreshAt: c.LastRefreshAt,
		LastError:     c.LastError,
		UpdatedAt:     c.UpdatedAt,
	}
	if c.Expiry != nil {
		res.Expiry = *c.Expiry
	}
	return res
}

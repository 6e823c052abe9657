package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/shortcast/pkg/domain"
)

// ChannelRepository handles channel-related database operations
type ChannelRepository struct {
	db *sqlx.DB
}

// channelSQL represents a channel row for SQL operations
type channelSQL struct {
	ID              string        `db:"id"`
	Name            string        `db:"name"`
	Descriptor      descriptorSQL `db:"descriptor"`
	Format          string        `db:"format"`
	IntervalMinutes int           `db:"interval_minutes"`
	Active          bool          `db:"active"`
	PauseReason     string        `db:"pause_reason"`
	CredentialID    string        `db:"credential_id"`
	Flags           flagsSQL      `db:"flags"`
	CreatedAt       time.Time     `db:"created_at"`
	LastPublishAt   *time.Time    `db:"last_publish_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

const channelColumns = `id, name, descriptor, format, interval_minutes, active, pause_reason,
	credential_id, flags, created_at, last_publish_at, updated_at`

// descriptorSQL stores the creative descriptor as JSON
type descriptorSQL domain.Descriptor

// Value implements driver.Valuer for database storage
func (d descriptorSQL) Value() (driver.Value, error) {
	b, err := json.Marshal(domain.Descriptor(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (d *descriptorSQL) Scan(value interface{}) error {
	*d = descriptorSQL{}
	data, ok := scanBytes(value)
	if !ok || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, (*domain.Descriptor)(d))
}

// flagsSQL stores channel feature flags as JSON
type flagsSQL domain.ChannelFlags

// Value implements driver.Valuer for database storage
func (f flagsSQL) Value() (driver.Value, error) {
	b, err := json.Marshal(domain.ChannelFlags(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (f *flagsSQL) Scan(value interface{}) error {
	*f = flagsSQL{}
	data, ok := scanBytes(value)
	if !ok || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, (*domain.ChannelFlags)(f))
}

// NewChannelRepository creates a new channel repository
func NewChannelRepository(db *sqlx.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// CreateChannel inserts a new channel, an active channel must reference a usable credential
func (r *ChannelRepository) CreateChannel(ctx context.Context, ch *domain.Channel) error {
	if !ch.Format.Valid() {
		return fmt.Errorf("create channel %s: invalid format %q", ch.ID, ch.Format)
	}
	if ch.IntervalMinutes < domain.MinChannelInterval || ch.IntervalMinutes > domain.MaxChannelInterval {
		return fmt.Errorf("create channel %s: interval %d out of range", ch.ID, ch.IntervalMinutes)
	}
	now := time.Now().UTC()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now

	return retryWrite(ctx, "create channel", func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if ch.Active {
			if err := checkCredentialUsable(ctx, tx, ch.CredentialID); err != nil {
				return err
			}
		}
		row := toChannelSQL(ch)
		query := `
			INSERT INTO channels (` + channelColumns + `)
			VALUES (:id, :name, :descriptor, :format, :interval_minutes, :active, :pause_reason,
				:credential_id, :flags, :created_at, :last_publish_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetChannel retrieves a channel by ID
func (r *ChannelRepository) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	var row channelSQL
	err := r.db.GetContext(ctx, &row, "SELECT "+channelColumns+" FROM channels WHERE id = ?", id)
	if err != nil {
		return nil, storeErr("get channel "+id, err)
	}
	return row.toDomain(), nil
}

// GetChannels retrieves all channels, only active ones if activeOnly is set
func (r *ChannelRepository) GetChannels(ctx context.Context, activeOnly bool) ([]*domain.Channel, error) {
	query := "SELECT " + channelColumns + " FROM channels"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id"

	var rows []channelSQL
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, storeErr("get channels", err)
	}
	res := make([]*domain.Channel, len(rows))
	for i := range rows {
		res[i] = rows[i].toDomain()
	}
	return res, nil
}

// UpdateChannel updates the user-editable fields of a channel
func (r *ChannelRepository) UpdateChannel(ctx context.Context, ch *domain.Channel) error {
	if !ch.Format.Valid() {
		return fmt.Errorf("update channel %s: invalid format %q", ch.ID, ch.Format)
	}
	ch.UpdatedAt = time.Now().UTC()
	return retryWrite(ctx, "update channel "+ch.ID, func() error {
		query := `
			UPDATE channels
			SET name = :name, descriptor = :descriptor, format = :format, credential_id = :credential_id,
				flags = :flags, updated_at = :updated_at
			WHERE id = :id`
		res, err := r.db.NamedExecContext(ctx, query, toChannelSQL(ch))
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// UpdateInterval sets the publish interval, the value must already be clamped by the caller
func (r *ChannelRepository) UpdateInterval(ctx context.Context, id string, minutes int) error {
	if minutes < domain.MinChannelInterval || minutes > domain.MaxChannelInterval {
		return fmt.Errorf("update interval %s: %d out of range", id, minutes)
	}
	return retryWrite(ctx, "update interval "+id, func() error {
		res, err := r.db.ExecContext(ctx,
			"UPDATE channels SET interval_minutes = ?, updated_at = ? WHERE id = ?",
			minutes, ts(time.Now()), id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// Pause deactivates a channel recording the reason. An auto-resumed reason keeps the reason of an
// already paused channel, so a quota reset can't bring back a channel paused by an operator.
func (r *ChannelRepository) Pause(ctx context.Context, id string, reason domain.PauseReason) error {
	return retryWrite(ctx, "pause channel "+id, func() error {
		res, err := r.db.ExecContext(ctx, `
			UPDATE channels SET active = 0,
			pause_reason = CASE WHEN ? AND active = 0 AND pause_reason != '' THEN pause_reason ELSE ? END,
			updated_at = ? WHERE id = ?`,
			reason.AutoResumed(), string(reason), ts(time.Now()), id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// Resume activates a channel, rejecting it when the credential is not usable
func (r *ChannelRepository) Resume(ctx context.Context, id string) error {
	return retryWrite(ctx, "resume channel "+id, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var credID string
		if err := tx.GetContext(ctx, &credID, "SELECT credential_id FROM channels WHERE id = ?", id); err != nil {
			return storeErr("get channel", err)
		}
		if err := checkCredentialUsable(ctx, tx, credID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE channels SET active = 1, pause_reason = '', updated_at = ? WHERE id = ?",
			ts(time.Now()), id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ResumePaused activates every channel paused for the given reason whose credential is usable.
// Returns ids of resumed channels.
func (r *ChannelRepository) ResumePaused(ctx context.Context, reason domain.PauseReason) ([]string, error) {
	var ids []string
	err := retryWrite(ctx, "resume paused channels", func() error {
		ids = nil
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		query := `
			SELECT c.id FROM channels c
			JOIN credentials cr ON cr.id = c.credential_id
			WHERE c.active = 0 AND c.pause_reason = ?
			AND cr.state NOT IN ('needs-reauth', 'revoked')
			ORDER BY c.id`
		if err := tx.SelectContext(ctx, &ids, query, string(reason)); err != nil {
			return err
		}
		now := ts(time.Now())
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"UPDATE channels SET active = 1, pause_reason = '', updated_at = ? WHERE id = ?", now, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	return ids, err
}

// PauseByCredential deactivates all active channels using the credential, returns affected channel ids
func (r *ChannelRepository) PauseByCredential(ctx context.Context, credentialID string, reason domain.PauseReason) ([]string, error) {
	var ids []string
	err := retryWrite(ctx, "pause channels by credential", func() error {
		ids = nil
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := tx.SelectContext(ctx, &ids,
			"SELECT id FROM channels WHERE credential_id = ? AND active = 1 ORDER BY id", credentialID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE channels SET active = 0, pause_reason = ?, updated_at = ? WHERE credential_id = ? AND active = 1",
			string(reason), ts(time.Now()), credentialID); err != nil {
			return err
		}
		return tx.Commit()
	})
	return ids, err
}

// SetLastPublish records the latest publish instant of a channel
func (r *ChannelRepository) SetLastPublish(ctx context.Context, id string, at time.Time) error {
	return retryWrite(ctx, "set last publish "+id, func() error {
		res, err := r.db.ExecContext(ctx,
			"UPDATE channels SET last_publish_at = ?, updated_at = ? WHERE id = ?", ts(at), ts(time.Now()), id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// checkCredentialUsable verifies the credential exists and is not in a terminal state
func checkCredentialUsable(ctx context.Context, q sqlx.QueryerContext, credentialID string) error {
	if credentialID == "" {
		return fmt.Errorf("channel has no credential: %w", domain.ErrAuthExpired)
	}
	var state string
	if err := sqlx.GetContext(ctx, q, &state, "SELECT state FROM credentials WHERE id = ?", credentialID); err != nil {
		return storeErr("get credential "+credentialID, err)
	}
	if domain.CredentialState(state).Terminal() {
		return fmt.Errorf("credential %s is %s: %w", credentialID, state, domain.ErrAuthExpired)
	}
	return nil
}

// expectOne converts a zero-row update to ErrNotFound
func expectOne(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toChannelSQL(ch *domain.Channel) *channelSQL {
	return &channelSQL{
		ID:              ch.ID,
		Name:            ch.Name,
		Descriptor:      descriptorSQL(ch.Descriptor),
		Format:          string(ch.Format),
		IntervalMinutes: ch.IntervalMinutes,
		Active:          ch.Active,
		PauseReason:     string(ch.PauseReason),
		CredentialID:    ch.CredentialID,
		Flags:           flagsSQL(ch.Flags),
		CreatedAt:       ts(ch.CreatedAt),
		LastPublishAt:   tsPtr(ch.LastPublishAt),
		UpdatedAt:       ts(ch.UpdatedAt),
	}
}

func (c *channelSQL) toDomain() *domain.Channel {
	return &domain.Channel{
		ID:              c.ID,
		Name:            c.Name,
		Descriptor:      domain.Descriptor(c.Descriptor),
		Format:          domain.Format(c.Format),
		IntervalMinutes: c.IntervalMinutes,
		Active:          c.Active,
		PauseReason:     domain.PauseReason(c.PauseReason),
		CredentialID:    c.CredentialID,
		Flags:           domain.ChannelFlags(c.Flags),
		CreatedAt:       c.CreatedAt,
		LastPublishAt:   c.LastPublishAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

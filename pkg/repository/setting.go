package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SettingRepository handles key-value runtime state, e.g. last run instants of periodic tasks
type SettingRepository struct {
	db *sqlx.DB
}

// NewSettingRepository creates a new setting repository
func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetSetting retrieves a setting value, empty string if missing
func (r *SettingRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get setting", err)
	}
	return value, nil
}

// SetSetting stores a setting value
func (r *SettingRepository) SetSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	return retryWrite(ctx, "set setting", func() error {
		_, err := r.db.ExecContext(ctx, query, key, value, ts(time.Now()))
		return err
	})
}

// GetTime reads a setting holding an RFC3339 instant, zero time if missing
func (r *SettingRepository) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, err := r.GetSetting(ctx, key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse setting %s: %w", key, err)
	}
	return t, nil
}

// SetTime stores an instant as RFC3339
func (r *SettingRepository) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.SetSetting(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

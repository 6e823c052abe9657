package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/shortcast/pkg/domain"
)

// EventRepository handles the append-only event log
type EventRepository struct {
	db *sqlx.DB
}

// eventSQL represents an event row for SQL operations
type eventSQL struct {
	ID        int64          `db:"id"`
	ChannelID sql.NullString `db:"channel_id"`
	Timestamp time.Time      `db:"ts"`
	Severity  string         `db:"severity"`
	Category  string         `db:"category"`
	Message   string         `db:"message"`
	Payload   sql.NullString `db:"payload"`
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// AppendEvent appends an event, setting its id and timestamp when missing
func (r *EventRepository) AppendEvent(ctx context.Context, e *domain.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Severity == "" {
		e.Severity = domain.SeverityInfo
	}
	var chID sql.NullString
	if e.ChannelID != "" {
		chID = sql.NullString{String: e.ChannelID, Valid: true}
	}
	var payload sql.NullString
	if len(e.Payload) > 0 {
		if !json.Valid(e.Payload) {
			return fmt.Errorf("append event: invalid json payload")
		}
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}

	return retryWrite(ctx, "append event", func() error {
		res, err := r.db.ExecContext(ctx,
			"INSERT INTO events (channel_id, ts, severity, category, message, payload) VALUES (?, ?, ?, ?, ?, ?)",
			chID, e.Timestamp, string(e.Severity), string(e.Category), e.Message, payload)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get insert id: %w", err)
		}
		e.ID = id
		return nil
	})
}

// GetEvents lists events newest first
func (r *EventRepository) GetEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	var conds []string
	var args []interface{}
	if filter.ChannelID != "" {
		conds = append(conds, "channel_id = ?")
		args = append(args, filter.ChannelID)
	}
	if len(filter.Categories) > 0 {
		cats := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			cats[i] = string(c)
		}
		conds = append(conds, "category IN (?)")
		args = append(args, cats)
	}
	if len(filter.Severities) > 0 {
		conds = append(conds, "severity IN (?)")
		args = append(args, severityStrings(filter.Severities))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, ts(filter.Since))
	}
	query := "SELECT id, channel_id, ts, severity, category, message, payload FROM events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}
	var rows []eventSQL
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, storeErr("get events", err)
	}
	res := make([]*domain.Event, len(rows))
	for i, row := range rows {
		res[i] = &domain.Event{
			ID:        row.ID,
			ChannelID: row.ChannelID.String,
			Timestamp: row.Timestamp,
			Severity:  domain.Severity(row.Severity),
			Category:  domain.Category(row.Category),
			Message:   row.Message,
		}
		if row.Payload.Valid {
			res[i].Payload = json.RawMessage(row.Payload.String)
		}
	}
	return res, nil
}

// CountByCategory counts channel events per category since the given instant
func (r *EventRepository) CountByCategory(ctx context.Context, since time.Time, severities []domain.Severity) ([]domain.CategoryCount, error) {
	if len(severities) == 0 {
		severities = []domain.Severity{domain.SeverityWarn, domain.SeverityError}
	}
	query, args, err := sqlx.In(`
		SELECT channel_id, category, COUNT(*) AS cnt FROM events
		WHERE channel_id IS NOT NULL AND ts >= ? AND severity IN (?)
		GROUP BY channel_id, category
		ORDER BY cnt DESC, channel_id, category`, ts(since), severityStrings(severities))
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}
	var rows []struct {
		ChannelID string `db:"channel_id"`
		Category  string `db:"category"`
		Count     int    `db:"cnt"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, storeErr("count events", err)
	}
	res := make([]domain.CategoryCount, len(rows))
	for i, row := range rows {
		res[i] = domain.CategoryCount{ChannelID: row.ChannelID, Category: domain.Category(row.Category), Count: row.Count}
	}
	return res, nil
}

// PruneEvents deletes events older than before, returns number of deleted rows
func (r *EventRepository) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := retryWrite(ctx, "prune events", func() error {
		res, err := r.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", ts(before))
		if err != nil {
			return err
		}
		n, err = rowsAffected(res)
		return err
	})
	return n, err
}

func severityStrings(ss []domain.Severity) []string {
	res := make([]string, len(ss))
	for i, s := range ss {
		res[i] = string(s)
	}
	return res
}

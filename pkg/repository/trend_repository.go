package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/shortcast/pkg/domain"
)

// TrendRepository handles trend candidates
type TrendRepository struct {
	db *sqlx.DB
}

type trendSQL struct {
	ID                   int64                     `db:"id"`
	Topic                string                    `db:"topic"`
	TopicKey             string                    `db:"topic_key"`
	Source               string                    `db:"source"`
	Category             string                    `db:"category"`
	Region               string                    `db:"region"`
	VolumeBucket         string                    `db:"volume_bucket"`
	Link                 string                    `db:"link"`
	Summary              string                    `db:"summary"`
	FetchedAt            time.Time                 `db:"fetched_at"`
	AnalyzedAt           *time.Time                `db:"analyzed_at"`
	Approved             sql.NullBool              `db:"approved"`
	FormatRecommendation string                    `db:"format_recommendation"`
	Confidence           float64                   `db:"confidence"`
	Urgency              string                    `db:"urgency"`
	Plan                 jsonSQL[domain.TrendPlan] `db:"plan"`
	Planned              bool                      `db:"planned"`
	Generated            bool                      `db:"generated"`
	Published            bool                      `db:"published"`
}

const trendColumns = `id, topic, topic_key, source, category, region, volume_bucket, link, summary, fetched_at,
	analyzed_at, approved, format_recommendation, confidence, urgency, plan, planned, generated, published`

// TrendAnalysis is the outcome of analyzing a trend candidate
type TrendAnalysis struct {
	Approved   bool
	Format     domain.Format
	Confidence float64
	Urgency    domain.Urgency
	Plan       *domain.TrendPlan
	AnalyzedAt time.Time
}

// NewTrendRepository creates a new trend repository
func NewTrendRepository(db *sqlx.DB) *TrendRepository {
	return &TrendRepository{db: db}
}

// UpsertTrend inserts a candidate or refreshes the fetch data of an existing one with the same topic key.
// Returns true if a new candidate was created.
func (r *TrendRepository) UpsertTrend(ctx context.Context, t *domain.TrendCandidate) (bool, error) {
	if t.TopicKey == "" {
		return false, fmt.Errorf("upsert trend %q: empty topic key", t.Topic)
	}
	if t.FetchedAt.IsZero() {
		t.FetchedAt = time.Now()
	}
	var created bool
	err := retryWrite(ctx, "upsert trend", func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var id int64
		err = tx.GetContext(ctx, &id, "SELECT id FROM trends WHERE topic_key = ?", t.TopicKey)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO trends (topic, topic_key, source, category, region, volume_bucket, link, summary, fetched_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.Topic, t.TopicKey, t.Source, t.Category, t.Region, t.VolumeBucket, t.Link, t.Summary, ts(t.FetchedAt))
			if err != nil {
				return err
			}
			if id, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("get insert id: %w", err)
			}
			created = true
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE trends SET fetched_at = ?, volume_bucket = ?,
					summary = CASE WHEN ? != '' THEN ? ELSE summary END,
					link = CASE WHEN ? != '' THEN ? ELSE link END
				WHERE id = ?`,
				ts(t.FetchedAt), t.VolumeBucket, t.Summary, t.Summary, t.Link, t.Link, id); err != nil {
				return err
			}
			created = false
		}
		t.ID = id
		return tx.Commit()
	})
	return created, err
}

// GetTrend returns a trend candidate by id
func (r *TrendRepository) GetTrend(ctx context.Context, id int64) (*domain.TrendCandidate, error) {
	var row trendSQL
	if err := r.db.GetContext(ctx, &row, "SELECT "+trendColumns+" FROM trends WHERE id = ?", id); err != nil {
		return nil, storeErr(fmt.Sprintf("get trend %d", id), err)
	}
	return row.toDomain(), nil
}

// GetTrends lists trend candidates by approval and lifecycle flags, most urgent and confident first
func (r *TrendRepository) GetTrends(ctx context.Context, filter domain.TrendFilter) ([]*domain.TrendCandidate, error) {
	var conds []string
	var args []interface{}
	if filter.Approved != nil {
		conds = append(conds, "approved = ?")
		args = append(args, *filter.Approved)
	}
	if filter.Analyzed != nil {
		if *filter.Analyzed {
			conds = append(conds, "analyzed_at IS NOT NULL")
		} else {
			conds = append(conds, "analyzed_at IS NULL")
		}
	}
	for _, f := range []struct {
		col string
		val *bool
	}{{"planned", filter.Planned}, {"generated", filter.Generated}, {"published", filter.Published}} {
		if f.val != nil {
			conds = append(conds, f.col+" = ?")
			args = append(args, *f.val)
		}
	}
	query := "SELECT " + trendColumns + " FROM trends"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY CASE urgency WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC,
		confidence DESC, fetched_at ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	var rows []trendSQL
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeErr("get trends", err)
	}
	res := make([]*domain.TrendCandidate, len(rows))
	for i := range rows {
		res[i] = rows[i].toDomain()
	}
	return res, nil
}

// SaveAnalysis stores the analysis outcome of a candidate
func (r *TrendRepository) SaveAnalysis(ctx context.Context, id int64, a TrendAnalysis) error {
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = time.Now()
	}
	return retryWrite(ctx, fmt.Sprintf("save trend analysis %d", id), func() error {
		res, err := r.db.ExecContext(ctx, `
			UPDATE trends SET analyzed_at = ?, approved = ?, format_recommendation = ?, confidence = ?,
				urgency = ?, plan = ?
			WHERE id = ?`,
			ts(a.AnalyzedAt), a.Approved, string(a.Format), a.Confidence, string(a.Urgency),
			jsonSQL[domain.TrendPlan]{V: a.Plan}, id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// SetFlag raises a lifecycle flag of a candidate, flags never go back to false
func (r *TrendRepository) SetFlag(ctx context.Context, id int64, flag domain.TrendFlag) error {
	var col string
	switch flag {
	case domain.TrendPlanned:
		col = "planned"
	case domain.TrendGenerated:
		col = "generated"
	case domain.TrendPublished:
		col = "published"
	default:
		return fmt.Errorf("set trend flag: unknown flag %q", flag)
	}
	return retryWrite(ctx, fmt.Sprintf("set trend %d %s", id, col), func() error {
		res, err := r.db.ExecContext(ctx, "UPDATE trends SET "+col+" = 1 WHERE id = ?", id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// PruneTrends deletes never planned candidates fetched before the given instant
func (r *TrendRepository) PruneTrends(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := retryWrite(ctx, "prune trends", func() error {
		res, err := r.db.ExecContext(ctx, "DELETE FROM trends WHERE planned = 0 AND fetched_at < ?", ts(before))
		if err != nil {
			return err
		}
		n, err = rowsAffected(res)
		return err
	})
	return n, err
}

func (t *trendSQL) toDomain() *domain.TrendCandidate {
	res := &domain.TrendCandidate{
		ID:                   t.ID,
		Topic:                t.Topic,
		TopicKey:             t.TopicKey,
		Source:               t.Source,
		Category:             t.Category,
		Region:               t.Region,
		VolumeBucket:         t.VolumeBucket,
		Link:                 t.Link,
		Summary:              t.Summary,
		FetchedAt:            t.FetchedAt,
		AnalyzedAt:           t.AnalyzedAt,
		FormatRecommendation: domain.Format(t.FormatRecommendation),
		Confidence:           t.Confidence,
		Urgency:              domain.Urgency(t.Urgency),
		Plan:                 t.Plan.V,
		Planned:              t.Planned,
		Generated:            t.Generated,
		Published:            t.Published,
	}
	if t.Approved.Valid {
		approved := t.Approved.Bool
		res.Approved = &approved
	}
	return res
}

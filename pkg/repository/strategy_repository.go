package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/shortcast/pkg/domain"
)

// StrategyRepository handles strategy records
type StrategyRepository struct {
	db *sqlx.DB
}

type strategySQL struct {
	ID              int64      `db:"id"`
	ChannelID       string     `db:"channel_id"`
	Recommended     stringsSQL `db:"recommended"`
	Avoid           stringsSQL `db:"avoid"`
	StyleHints      stringsSQL `db:"style_hints"`
	HookTemplates   stringsSQL `db:"hook_templates"`
	IntervalMinutes int        `db:"interval_minutes"`
	Rationale       string     `db:"rationale"`
	Confidence      float64    `db:"confidence"`
	ViewsLift       float64    `db:"views_lift"`
	EngagementLift  float64    `db:"engagement_lift"`
	SampleStrategy  int        `db:"sample_strategy"`
	SampleControl   int        `db:"sample_control"`
	Applied         bool       `db:"applied"`
	CreatedAt       time.Time  `db:"created_at"`
}

const strategyColumns = `id, channel_id, recommended, avoid, style_hints, hook_templates, interval_minutes,
	rationale, confidence, views_lift, engagement_lift, sample_strategy, sample_control, applied, created_at`

// NewStrategyRepository creates a new strategy repository
func NewStrategyRepository(db *sqlx.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// SaveStrategy appends a strategy record, it becomes the latest for its channel
func (r *StrategyRepository) SaveStrategy(ctx context.Context, s *domain.Strategy) error {
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("save strategy: confidence %.2f out of range", s.Confidence)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	row := strategySQL{
		ChannelID: s.ChannelID, Recommended: s.Recommended, Avoid: s.Avoid, StyleHints: s.StyleHints,
		HookTemplates: s.HookTemplates, IntervalMinutes: s.IntervalMinutes, Rationale: s.Rationale,
		Confidence: s.Confidence, ViewsLift: s.ViewsLift, EngagementLift: s.EngagementLift,
		SampleStrategy: s.SampleStrategy, SampleControl: s.SampleControl, Applied: s.Applied, CreatedAt: s.CreatedAt,
	}
	return retryWrite(ctx, "save strategy", func() error {
		res, err := r.db.NamedExecContext(ctx, `
			INSERT INTO strategies (channel_id, recommended, avoid, style_hints, hook_templates, interval_minutes,
				rationale, confidence, views_lift, engagement_lift, sample_strategy, sample_control, applied, created_at)
			VALUES (:channel_id, :recommended, :avoid, :style_hints, :hook_templates, :interval_minutes,
				:rationale, :confidence, :views_lift, :engagement_lift, :sample_strategy, :sample_control, :applied, :created_at)`,
			row)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get insert id: %w", err)
		}
		s.ID = id
		return nil
	})
}

// LatestStrategy returns the authoritative strategy of a channel, ErrNotFound if none
func (r *StrategyRepository) LatestStrategy(ctx context.Context, channelID string) (*domain.Strategy, error) {
	var row strategySQL
	err := r.db.GetContext(ctx, &row,
		"SELECT "+strategyColumns+" FROM strategies WHERE channel_id = ? ORDER BY id DESC LIMIT 1", channelID)
	if err != nil {
		return nil, storeErr("latest strategy", err)
	}
	return row.toDomain(), nil
}

// GetStrategies returns strategy history of a channel, newest first
func (r *StrategyRepository) GetStrategies(ctx context.Context, channelID string, limit int) ([]*domain.Strategy, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []strategySQL
	err := r.db.SelectContext(ctx, &rows,
		"SELECT "+strategyColumns+" FROM strategies WHERE channel_id = ? ORDER BY id DESC LIMIT ?", channelID, limit)
	if err != nil {
		return nil, storeErr("get strategies", err)
	}
	res := make([]*domain.Strategy, len(rows))
	for i := range rows {
		res[i] = rows[i].toDomain()
	}
	return res, nil
}

// MarkApplied flags that the channel interval was updated from the strategy
func (r *StrategyRepository) MarkApplied(ctx context.Context, id int64) error {
	return retryWrite(ctx, "mark strategy applied", func() error {
		res, err := r.db.ExecContext(ctx, "UPDATE strategies SET applied = 1 WHERE id = ?", id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

func (s *strategySQL) toDomain() *domain.Strategy {
	return &domain.Strategy{
		ID:              s.ID,
		ChannelID:       s.ChannelID,
		Recommended:     []string(s.Recommended),
		Avoid:           []string(s.Avoid),
		StyleHints:      []string(s.StyleHints),
		HookTemplates:   []string(s.HookTemplates),
		IntervalMinutes: s.IntervalMinutes,
		Rationale:       s.Rationale,
		Confidence:      s.Confidence,
		ViewsLift:       s.ViewsLift,
		EngagementLift:  s.EngagementLift,
		SampleStrategy:  s.SampleStrategy,
		SampleControl:   s.SampleControl,
		Applied:         s.Applied,
		CreatedAt:       s.CreatedAt,
	}
}

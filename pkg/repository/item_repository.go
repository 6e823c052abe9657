package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/shortcast/pkg/domain"
)

// ItemRepository handles item-related database operations
type ItemRepository struct {
	db *sqlx.DB
}

// itemSQL represents an item row for SQL operations
type itemSQL struct {
	ID               string                           `db:"id"`
	ChannelID        string                           `db:"channel_id"`
	Title            string                           `db:"title"`
	Topic            string                           `db:"topic"`
	TopicKey         string                           `db:"topic_key"`
	Format           string                           `db:"format"`
	Description      string                           `db:"description"`
	Tags             stringsSQL                       `db:"tags"`
	ArtifactPath     string                           `db:"artifact_path"`
	ExternalID       string                           `db:"external_id"`
	Status           string                           `db:"status"`
	ScheduledAt      time.Time                        `db:"scheduled_at"`
	PublishedAt      *time.Time                       `db:"published_at"`
	Attempts         int                              `db:"attempts"`
	ErrorCause       string                           `db:"error_cause"`
	ErrorMessage     string                           `db:"error_message"`
	Snapshot         jsonSQL[domain.StrategySnapshot] `db:"strategy_snapshot"`
	ABGroup          string                           `db:"ab_group"`
	TrendID          *int64                           `db:"trend_id"`
	Views            int64                            `db:"views"`
	Likes            int64                            `db:"likes"`
	Comments         int64                            `db:"comments"`
	AvgRetention     *float64                         `db:"avg_retention"`
	ClickThrough     *float64                         `db:"click_through"`
	MetricsUpdatedAt *time.Time                       `db:"metrics_updated_at"`
	CreatedAt        time.Time                        `db:"created_at"`
	UpdatedAt        time.Time                        `db:"updated_at"`
}

const itemColumns = `id, channel_id, title, topic, topic_key, format, description, tags, artifact_path,
	external_id, status, scheduled_at, published_at, attempts, error_cause, error_message,
	strategy_snapshot, ab_group, trend_id, views, likes, comments, avg_retention, click_through,
	metrics_updated_at, created_at, updated_at`

// ReadyUpdate carries generation results stored when an item becomes ready
type ReadyUpdate struct {
	Title        string
	Description  string
	Tags         []string
	ArtifactPath string
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// CreateItem inserts a new item in planned status, assigning an id when missing
func (r *ItemRepository) CreateItem(ctx context.Context, item *domain.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = domain.StatusPlanned
	}
	if item.Status != domain.StatusPlanned {
		return fmt.Errorf("create item %s: %w: new items must be planned", item.ID, domain.ErrInvalidTransition)
	}
	if item.Group != domain.GroupStrategy && item.Group != domain.GroupControl {
		return fmt.Errorf("create item %s: invalid a/b group %q", item.ID, item.Group)
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now

	row := toItemSQL(item)
	return retryWrite(ctx, "create item", func() error {
		query := `
			INSERT INTO items (` + itemColumns + `)
			VALUES (:id, :channel_id, :title, :topic, :topic_key, :format, :description, :tags, :artifact_path,
				:external_id, :status, :scheduled_at, :published_at, :attempts, :error_cause, :error_message,
				:strategy_snapshot, :ab_group, :trend_id, :views, :likes, :comments, :avg_retention, :click_through,
				:metrics_updated_at, :created_at, :updated_at)`
		_, err := r.db.NamedExecContext(ctx, query, row)
		return err
	})
}

// GetItem retrieves an item by ID
func (r *ItemRepository) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var row itemSQL
	if err := r.db.GetContext(ctx, &row, "SELECT "+itemColumns+" FROM items WHERE id = ?", id); err != nil {
		return nil, storeErr("get item "+id, err)
	}
	return row.toDomain(), nil
}

// GetItems lists items of a channel, newest first
func (r *ItemRepository) GetItems(ctx context.Context, filter domain.ItemFilter) ([]*domain.Item, error) {
	var conds []string
	var args []interface{}
	if filter.ChannelID != "" {
		conds = append(conds, "channel_id = ?")
		args = append(args, filter.ChannelID)
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "status IN (?)")
		args = append(args, statusStrings(filter.Statuses))
	}
	if filter.Group != "" {
		conds = append(conds, "ab_group = ?")
		args = append(args, string(filter.Group))
	}
	orderBy := "created_at DESC"
	if filter.Published {
		orderBy = "published_at DESC"
	}
	if !filter.Since.IsZero() {
		if filter.Published {
			conds = append(conds, "published_at >= ?")
		} else {
			conds = append(conds, "created_at >= ?")
		}
		args = append(args, ts(filter.Since))
	}

	query := "SELECT " + itemColumns + " FROM items"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + orderBy
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}
	var rows []itemSQL
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, storeErr("get items", err)
	}
	res := make([]*domain.Item, len(rows))
	for i := range rows {
		res[i] = rows[i].toDomain()
	}
	return res, nil
}

// GetReadyItem returns the oldest ready item of a channel, ErrNotFound if none
func (r *ItemRepository) GetReadyItem(ctx context.Context, channelID string) (*domain.Item, error) {
	var row itemSQL
	err := r.db.GetContext(ctx, &row,
		"SELECT "+itemColumns+" FROM items WHERE channel_id = ? AND status = ? ORDER BY created_at LIMIT 1",
		channelID, string(domain.StatusReady))
	if err != nil {
		return nil, storeErr("get ready item", err)
	}
	return row.toDomain(), nil
}

// RecentTopics returns normalized topic keys of non-failed items of a channel
// created or published at or after since
func (r *ItemRepository) RecentTopics(ctx context.Context, channelID string, since time.Time) ([]string, error) {
	query := `
		SELECT topic_key FROM items
		WHERE channel_id = ? AND status != 'failed' AND topic_key != ''
		AND (created_at >= ? OR published_at >= ?)
		ORDER BY created_at DESC`
	var keys []string
	if err := r.db.SelectContext(ctx, &keys, query, channelID, ts(since), ts(since)); err != nil {
		return nil, storeErr("recent topics", err)
	}
	return keys, nil
}

// StartGeneration moves a planned item to generating and increments its attempt counter
func (r *ItemRepository) StartGeneration(ctx context.Context, id string) error {
	return r.transition(ctx, "start generation", id, domain.StatusGenerating, "attempts = attempts + 1")
}

// MarkReady stores generation results and moves the item to ready
func (r *ItemRepository) MarkReady(ctx context.Context, id string, upd ReadyUpdate) error {
	return r.transition(ctx, "mark ready", id, domain.StatusReady,
		"title = ?, description = ?, tags = ?, artifact_path = ?, error_cause = '', error_message = ''",
		upd.Title, upd.Description, stringsSQL(upd.Tags), upd.ArtifactPath)
}

// StartPublishing moves a ready item to publishing
func (r *ItemRepository) StartPublishing(ctx context.Context, id string) error {
	return r.transition(ctx, "start publishing", id, domain.StatusPublishing, "")
}

// MarkPublished records the external id and publish time, moving the item to published
func (r *ItemRepository) MarkPublished(ctx context.Context, id, externalID string, at time.Time) error {
	if externalID == "" {
		return fmt.Errorf("mark published %s: empty external id", id)
	}
	return r.transition(ctx, "mark published", id, domain.StatusPublished,
		"external_id = ?, published_at = ?", externalID, ts(at))
}

// MarkFailed moves a non-terminal item to failed with its classified cause
func (r *ItemRepository) MarkFailed(ctx context.Context, id string, cause domain.Category, msg string) error {
	return r.transition(ctx, "mark failed", id, domain.StatusFailed,
		"error_cause = ?, error_message = ?", string(cause), truncate(msg, 2000))
}

// Rollback returns an in-flight item to its prior status
func (r *ItemRepository) Rollback(ctx context.Context, id string) error {
	return retryWrite(ctx, "rollback item "+id, func() error {
		query := `
			UPDATE items SET
				status = CASE status WHEN 'generating' THEN 'planned' WHEN 'publishing' THEN 'ready' END,
				updated_at = ?
			WHERE id = ? AND status IN ('generating', 'publishing')`
		res, err := r.db.ExecContext(ctx, query, ts(time.Now()), id)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return r.missingOrInvalid(ctx, id)
		}
		return nil
	})
}

// RecoverInFlight cleans up items left behind by an interrupted worker: publishing items go back to
// ready, planned and generating items are failed with 'interrupted' since their partial artifacts are
// gone and the slot they were made for has passed. Returns number of touched items.
func (r *ItemRepository) RecoverInFlight(ctx context.Context, channelID string) (int64, error) {
	var total int64
	err := retryWrite(ctx, "recover in-flight items", func() error {
		total = 0
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		now := ts(time.Now())
		res, err := tx.ExecContext(ctx,
			"UPDATE items SET status = 'ready', updated_at = ? WHERE channel_id = ? AND status = 'publishing'", now, channelID)
		if err != nil {
			return err
		}
		n1, err := rowsAffected(res)
		if err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE items SET status = 'failed', error_message = 'interrupted', updated_at = ?
			WHERE channel_id = ? AND status IN ('planned', 'generating')`, now, channelID)
		if err != nil {
			return err
		}
		n2, err := rowsAffected(res)
		if err != nil {
			return err
		}
		total = n1 + n2
		return tx.Commit()
	})
	return total, err
}

// UpdateMetrics writes measured metrics, touching only metric columns
func (r *ItemRepository) UpdateMetrics(ctx context.Context, id string, m domain.Metrics) error {
	at := time.Now().UTC()
	if m.MetricsUpdatedAt != nil {
		at = m.MetricsUpdatedAt.UTC()
	}
	return retryWrite(ctx, "update metrics "+id, func() error {
		res, err := r.db.ExecContext(ctx, `
			UPDATE items SET views = ?, likes = ?, comments = ?, avg_retention = ?, click_through = ?,
				metrics_updated_at = ?
			WHERE id = ?`,
			m.Views, m.Likes, m.Comments, m.AvgRetention, m.ClickThrough, at, id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// transition applies a status change guarded by the allowed predecessor statuses
func (r *ItemRepository) transition(ctx context.Context, op, id string, to domain.ItemStatus, set string, setArgs ...interface{}) error {
	from := domain.AllowedFrom(to)
	return retryWrite(ctx, op+" "+id, func() error {
		query := "UPDATE items SET status = ?, updated_at = ?"
		args := []interface{}{string(to), ts(time.Now())}
		if set != "" {
			query += ", " + set
			args = append(args, setArgs...)
		}
		query += " WHERE id = ? AND status IN (?)"
		args = append(args, id, statusStrings(from))

		q, qargs, err := sqlx.In(query, args...)
		if err != nil {
			return err
		}
		res, err := r.db.ExecContext(ctx, r.db.Rebind(q), qargs...)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return r.missingOrInvalid(ctx, id)
		}
		return nil
	})
}

// missingOrInvalid explains why a guarded update touched no rows
func (r *ItemRepository) missingOrInvalid(ctx context.Context, id string) error {
	var status string
	if err := r.db.GetContext(ctx, &status, "SELECT status FROM items WHERE id = ?", id); err != nil {
		return storeErr("get item status", err)
	}
	return fmt.Errorf("item %s is %s: %w", id, status, domain.ErrInvalidTransition)
}

func statusStrings(ss []domain.ItemStatus) []string {
	res := make([]string, len(ss))
	for i, s := range ss {
		res[i] = string(s)
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toItemSQL(item *domain.Item) *itemSQL {
	return &itemSQL{
		ID:               item.ID,
		ChannelID:        item.ChannelID,
		Title:            item.Title,
		Topic:            item.Topic,
		TopicKey:         item.TopicKey,
		Format:           string(item.Format),
		Description:      item.Description,
		Tags:             stringsSQL(item.Tags),
		ArtifactPath:     item.ArtifactPath,
		ExternalID:       item.ExternalID,
		Status:           string(item.Status),
		ScheduledAt:      ts(item.ScheduledAt),
		PublishedAt:      tsPtr(item.PublishedAt),
		Attempts:         item.Attempts,
		ErrorCause:       string(item.ErrorCause),
		ErrorMessage:     item.ErrorMessage,
		Snapshot:         jsonSQL[domain.StrategySnapshot]{V: item.Snapshot},
		ABGroup:          string(item.Group),
		TrendID:          item.TrendID,
		Views:            item.Metrics.Views,
		Likes:            item.Metrics.Likes,
		Comments:         item.Metrics.Comments,
		AvgRetention:     item.Metrics.AvgRetention,
		ClickThrough:     item.Metrics.ClickThrough,
		MetricsUpdatedAt: tsPtr(item.Metrics.MetricsUpdatedAt),
		CreatedAt:        ts(item.CreatedAt),
		UpdatedAt:        ts(item.UpdatedAt),
	}
}

func (i *itemSQL) toDomain() *domain.Item {
	return &domain.Item{
		ID:           i.ID,
		ChannelID:    i.ChannelID,
		Title:        i.Title,
		Topic:        i.Topic,
		TopicKey:     i.TopicKey,
		Format:       domain.Format(i.Format),
		Description:  i.Description,
		Tags:         []string(i.Tags),
		ArtifactPath: i.ArtifactPath,
		ExternalID:   i.ExternalID,
		Status:       domain.ItemStatus(i.Status),
		ScheduledAt:  i.ScheduledAt,
		PublishedAt:  i.PublishedAt,
		Attempts:     i.Attempts,
		ErrorCause:   domain.Category(i.ErrorCause),
		ErrorMessage: i.ErrorMessage,
		Snapshot:     i.Snapshot.V,
		Group:        domain.ABGroup(i.ABGroup),
		TrendID:      i.TrendID,
		Metrics: domain.Metrics{
			Views:            i.Views,
			Likes:            i.Likes,
			Comments:         i.Comments,
			AvgRetention:     i.AvgRetention,
			ClickThrough:     i.ClickThrough,
			MetricsUpdatedAt: i.MetricsUpdatedAt,
		},
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

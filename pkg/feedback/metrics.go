package feedback

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/shortcast/pkg/domain"
)

// cachedMetrics is the cache entry of one external id
type cachedMetrics struct {
	Views     int64    `json:"views"`
	Likes     int64    `json:"likes"`
	Comments  int64    `json:"comments"`
	Retention *float64 `json:"retention,omitempty"`
}

// RefreshMetrics updates counters of recently published items of all active channels.
// Channel failures are logged and recorded, they don't stop other channels.
func (l *Loop) RefreshMetrics(ctx context.Context) error {
	channels, err := l.store.GetChannels(ctx, true)
	if err != nil {
		return fmt.Errorf("get channels: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.params.Concurrency)
	for _, ch := range channels {
		g.Go(func() error {
			n, err := l.refreshChannel(gctx, ch)
			if err != nil {
				log.Printf("[WARN] metrics refresh for %s failed: %v", ch.ID, err)
				l.rec.Record(gctx, ch.ID, domain.SeverityWarn, domain.CatMetrics,
					fmt.Sprintf("metrics refresh failed: %v", err), nil)
				return nil
			}
			log.Printf("[DEBUG] metrics of %d items refreshed for %s", n, ch.ID)
			return nil
		})
	}
	return g.Wait()
}

// refreshChannel updates metrics of the channel's items published within the window
func (l *Loop) refreshChannel(ctx context.Context, ch *domain.Channel) (int, error) {
	now := l.params.Now()
	items, err := l.store.GetItems(ctx, domain.ItemFilter{ChannelID: ch.ID, Statuses: []domain.ItemStatus{domain.StatusPublished},
		Since: now.Add(-l.params.MetricsWindow), Published: true})
	if err != nil {
		return 0, fmt.Errorf("get published items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	found := make(map[string]cachedMetrics, len(items))
	var missing []string
	for _, it := range items {
		var cm cachedMetrics
		if ok := l.cacheGet(ctx, it.ExternalID, &cm); ok {
			found[it.ExternalID] = cm
			continue
		}
		missing = append(missing, it.ExternalID)
	}

	if len(missing) > 0 {
		sess, err := l.sessions.Acquire(ctx, ch.ID)
		if err != nil {
			return 0, fmt.Errorf("acquire session: %w", err)
		}
		stats, err := l.analytics.Stats(ctx, sess.TokenSource(), missing)
		if err != nil {
			return 0, fmt.Errorf("get stats: %w", err)
		}
		for _, id := range missing {
			st, ok := stats[id]
			if !ok {
				continue // removed or not processed yet
			}
			cm := cachedMetrics{Views: st.Views, Likes: st.Likes, Comments: st.Comments}
			ret, err := l.analytics.Retention(ctx, sess.TokenSource(), id, now.Add(-l.params.MetricsWindow), now)
			if err != nil {
				log.Printf("[DEBUG] no retention for %s: %v", id, err)
			}
			cm.Retention = ret
			found[id] = cm
			l.cacheSet(ctx, id, cm)
		}
	}

	updated := 0
	for _, it := range items {
		cm, ok := found[it.ExternalID]
		if !ok {
			continue
		}
		at := now
		m := domain.Metrics{Views: cm.Views, Likes: cm.Likes, Comments: cm.Comments, AvgRetention: cm.Retention,
			ClickThrough: it.Metrics.ClickThrough, MetricsUpdatedAt: &at}
		if err := l.store.UpdateItemMetrics(ctx, it.ID, m); err != nil {
			return updated, fmt.Errorf("update metrics of %s: %w", it.ID, err)
		}
		updated++
	}
	return updated, nil
}

func (l *Loop) cacheGet(ctx context.Context, id string, v *cachedMetrics) bool {
	if l.cache == nil {
		return false
	}
	ok, err := l.cache.Get(ctx, "metrics:"+id, v)
	if err != nil {
		log.Printf("[WARN] metrics cache get %s: %v", id, err)
		return false
	}
	return ok
}

func (l *Loop) cacheSet(ctx context.Context, id string, v cachedMetrics) {
	if l.cache == nil {
		return
	}
	// expire before the next refresh
	if err := l.cache.Set(ctx, "metrics:"+id, v, l.params.Cadence-time.Minute); err != nil {
		log.Printf("[WARN] metrics cache set %s: %v", id, err)
	}
}

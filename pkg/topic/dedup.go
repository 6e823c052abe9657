package topic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/umputun/shortcast/pkg/domain"
)

// ErrDuplicate is returned for a topic colliding with a recent one of the channel
var ErrDuplicate = errors.New("duplicate topic")

// DefaultDedupWindowDays is the look-back used when the channel has no own setting
const DefaultDedupWindowDays = 30

// TopicStore provides recent topic keys of a channel
type TopicStore interface {
	RecentTopics(ctx context.Context, channelID string, since time.Time) ([]string, error)
}

// Dedup checks proposed topics against the recent items of a channel
type Dedup struct {
	store      TopicStore
	windowDays int
	now        func() time.Time
}

// NewDedup makes a dedup checker, windowDays < 0 means default
func NewDedup(store TopicStore, windowDays int) *Dedup {
	if windowDays < 0 {
		windowDays = DefaultDedupWindowDays
	}
	return &Dedup{store: store, windowDays: windowDays, now: time.Now}
}

// RecentTopics returns topic keys of the channel within its dedup window
func (d *Dedup) RecentTopics(ctx context.Context, ch *domain.Channel) ([]string, error) {
	window := ch.DedupWindow(d.windowDays)
	if window <= 0 {
		return nil, nil
	}
	keys, err := d.store.RecentTopics(ctx, ch.ID, d.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("load recent topics of %s: %w", ch.ID, err)
	}
	return keys, nil
}

// CheckDuplicate returns the normalized key of topic, or ErrDuplicate if it collides within the window
func (d *Dedup) CheckDuplicate(ctx context.Context, ch *domain.Channel, topic string) (string, error) {
	key := Normalize(topic)
	if key == "" {
		return "", domain.Fail(domain.CatValidation, fmt.Errorf("topic %q is empty after normalization", topic))
	}
	recent, err := d.RecentTopics(ctx, ch)
	if err != nil {
		return "", err
	}
	if dup, m := Collides(key, recent); dup {
		return key, fmt.Errorf("%q matches %q (%.2f): %w", key, m.Key, m.Similarity, ErrDuplicate)
	}
	return key, nil
}

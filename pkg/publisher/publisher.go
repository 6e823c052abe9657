// Package publisher uploads ready items to the platform and handles the outcome: published items get
// their external id, quota and auth failures are escalated to their managers and the item goes back
// to ready, other permanent failures fail the item.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/oauth2"

	"github.com/umputun/shortcast/pkg/credential"
	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/retry"
	"github.com/umputun/shortcast/pkg/youtube"
)

// Store is the subset of the store used by the publisher
type Store interface {
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	StartPublishing(ctx context.Context, id string) error
	MarkItemPublished(ctx context.Context, id, externalID string, at time.Time) error
	MarkItemFailed(ctx context.Context, id string, cause domain.Category, msg string) error
	RollbackItem(ctx context.Context, id string) error
	SetChannelLastPublish(ctx context.Context, id string, at time.Time) error
	SetTrendFlag(ctx context.Context, id int64, flag domain.TrendFlag) error
}

// Sessions provides credential sessions and takes auth failures
type Sessions interface {
	Acquire(ctx context.Context, channelID string) (*credential.Session, error)
	MarkNeedsReauth(ctx context.Context, credentialID, channelID string, cause error) error
}

// Quotas takes provider-reported quota exhaustion
type Quotas interface {
	MarkExhausted(ctx context.Context, provider, channelID string) error
}

// Uploader sends artifacts to the platform
type Uploader interface {
	Upload(ctx context.Context, ts oauth2.TokenSource, v youtube.Video) (string, error)
}

// Recorder records events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Params of the publisher
type Params struct {
	Attempts  int // upload attempts, default 3
	RetryBase time.Duration
	Classify  func(error) domain.ErrorClass // upload error classifier
	Now       func() time.Time
}

// Publisher uploads ready items
type Publisher struct {
	store    Store
	sessions Sessions
	quotas   Quotas
	uploader Uploader
	rec      Recorder
	params   Params
}

// New makes a publisher
func New(store Store, sessions Sessions, quotas Quotas, uploader Uploader, rec Recorder, params Params) *Publisher {
	if params.Attempts <= 0 {
		params.Attempts = 3
	}
	if params.RetryBase <= 0 {
		params.RetryBase = time.Second
	}
	if params.Classify == nil {
		params.Classify = func(error) domain.ErrorClass { return domain.ClassPermanent }
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Publisher{store: store, sessions: sessions, quotas: quotas, uploader: uploader, rec: rec, params: params}
}

// Publish uploads a ready item of the channel. An item already published is returned as is.
func (p *Publisher) Publish(ctx context.Context, ch *domain.Channel, itemID string) (*domain.Item, error) {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	if item.Status == domain.StatusPublished {
		log.Printf("[DEBUG] item %s already published as %s", item.ID, item.ExternalID)
		return item, nil
	}
	if item.Status != domain.StatusReady {
		return nil, fmt.Errorf("publish item %s in %s state: %w", item.ID, item.Status, domain.ErrInvalidTransition)
	}

	sess, err := p.sessions.Acquire(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire session for %s: %w", ch.ID, err)
	}
	if err := p.store.StartPublishing(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("start publishing %s: %w", item.ID, err)
	}

	video := youtube.Video{Path: item.ArtifactPath, Title: item.Title, Description: Compose(item.Description, item.Tags),
		Tags: item.Tags, Privacy: "public"}
	var externalID string
	policy := retry.Policy{Name: "upload", Attempts: p.params.Attempts, Base: p.params.RetryBase, Cap: 16 * time.Second,
		Classify: p.params.Classify}
	err = policy.Do(ctx, func(ctx context.Context) error {
		id, err := p.uploader.Upload(ctx, sess.TokenSource(), video)
		if err != nil {
			return err
		}
		externalID = id
		return nil
	})
	if err != nil {
		return nil, p.handleFailure(ctx, ch, item, sess, err)
	}

	now := p.params.Now()
	if err := p.store.MarkItemPublished(ctx, item.ID, externalID, now); err != nil {
		return nil, fmt.Errorf("mark %s published as %s: %w", item.ID, externalID, err)
	}
	if err := p.store.SetChannelLastPublish(ctx, ch.ID, now); err != nil {
		log.Printf("[WARN] can't set last publish time of %s: %v", ch.ID, err)
	}
	if item.TrendID != nil {
		if err := p.store.SetTrendFlag(ctx, *item.TrendID, domain.TrendPublished); err != nil {
			log.Printf("[WARN] can't mark trend %d published: %v", *item.TrendID, err)
		}
	}
	p.rec.Record(ctx, ch.ID, domain.SeverityInfo, domain.CatPublish, fmt.Sprintf("published %q as %s", item.Title, externalID),
		map[string]any{"item_id": item.ID, "external_id": externalID, "group": item.Group})
	return p.store.GetItem(ctx, item.ID)
}

// handleFailure escalates the upload error by its class and moves the item accordingly
func (p *Publisher) handleFailure(ctx context.Context, ch *domain.Channel, item *domain.Item, sess *credential.Session, err error) error {
	rollback := func() {
		if rerr := p.store.RollbackItem(context.WithoutCancel(ctx), item.ID); rerr != nil {
			log.Printf("[WARN] can't roll back item %s: %v", item.ID, rerr)
		}
	}
	if ctx.Err() != nil {
		rollback()
		return ctx.Err()
	}

	payload := map[string]any{"item_id": item.ID, "title": item.Title}
	class := p.params.Classify(err)
	switch class {
	case domain.ClassQuota:
		rollback()
		if qerr := p.quotas.MarkExhausted(ctx, domain.ProviderUpload, ch.ID); qerr != nil {
			log.Printf("[WARN] can't mark upload quota exhausted: %v", qerr)
		}
		return domain.Fail(domain.CatQuota, fmt.Errorf("upload %s: %w", item.ID, errors.Join(err, domain.ErrQuotaExhausted)))
	case domain.ClassAuth:
		rollback()
		if aerr := p.sessions.MarkNeedsReauth(ctx, sess.CredentialID, ch.ID, err); aerr != nil {
			log.Printf("[WARN] can't mark credential %s for reauth: %v", sess.CredentialID, aerr)
		}
		return domain.Fail(domain.CatAuth, fmt.Errorf("upload %s: %w", item.ID, errors.Join(err, domain.ErrAuthExpired)))
	case domain.ClassTransient, domain.ClassRateLimited:
		rollback()
		p.rec.Record(ctx, ch.ID, domain.SeverityWarn, class.Category(),
			fmt.Sprintf("upload of %s deferred after %d attempts: %v", item.ID, p.params.Attempts, err), payload)
		return domain.Fail(class.Category(), fmt.Errorf("upload %s: %w", item.ID, err))
	}

	if merr := p.store.MarkItemFailed(ctx, item.ID, domain.CatUploadPermanent, err.Error()); merr != nil {
		log.Printf("[WARN] can't mark item %s failed: %v", item.ID, merr)
	}
	p.rec.Record(ctx, ch.ID, domain.SeverityError, domain.CatUploadPermanent,
		fmt.Sprintf("upload of %s failed: %v", item.ID, err), payload)
	return domain.Fail(domain.CatUploadPermanent, fmt.Errorf("upload %s: %w", item.ID, err))
}

// Compose appends hashtags made from tags to the description
func Compose(description string, tags []string) string {
	var hashtags []string
	seen := map[string]bool{}
	for _, t := range tags {
		h := strings.ToLower(strings.Join(strings.Fields(t), ""))
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		hashtags = append(hashtags, "#"+h)
	}
	description = strings.TrimSpace(description)
	if len(hashtags) == 0 {
		return description
	}
	if description == "" {
		return strings.Join(hashtags, " ")
	}
	return description + "\n\n" + strings.Join(hashtags, " ")
}

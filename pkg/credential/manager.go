// Package credential manages upload platform credentials: token files, synchronous refresh on acquire
// and a background refresher pausing channels whose credential can't be refreshed.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/oauth2"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/retry"
)

// Store is the persistence needed by the credential manager
type Store interface {
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)
	UpsertCredential(ctx context.Context, c *domain.Credential) error
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)
	GetCredentials(ctx context.Context) ([]*domain.Credential, error)
	BeginCredentialRefresh(ctx context.Context, id string) (bool, error)
	MarkCredentialRefreshed(ctx context.Context, id string, expiry, at time.Time) error
	SetCredentialState(ctx context.Context, id string, state domain.CredentialState, lastErr string) error
	PauseChannelsByCredential(ctx context.Context, credentialID string, reason domain.PauseReason) ([]string, error)
}

// Refresher obtains a new access token for a refresh token
type Refresher interface {
	Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
}

// Recorder writes events
type Recorder interface {
	Record(ctx context.Context, channelID string, sev domain.Severity, cat domain.Category, msg string, payload any)
}

// Session is a credential with an access token valid for at least the acquire margin
type Session struct {
	CredentialID string
	Account      string
	Token        *oauth2.Token
}

// TokenSource returns a static token source for platform clients
func (s *Session) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(s.Token)
}

// Params for the manager
type Params struct {
	Margin           time.Duration // min residual validity returned by Acquire
	BackgroundMargin time.Duration // background scan refreshes tokens below this validity
	ScanInterval     time.Duration
	RetryAttempts    int
	RetryBase        time.Duration
	Now              func() time.Time
}

// default refresh margins and scan interval
const (
	DefaultMargin           = 12 * time.Hour
	DefaultBackgroundMargin = 24 * time.Hour
	DefaultScanInterval     = 15 * time.Minute
)

// Manager owns credential refresh. Refreshes of the same credential are serialized.
type Manager struct {
	store     Store
	tokens    *TokenStore
	refresher Refresher
	rec       Recorder
	params    Params

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager makes a credential manager
func NewManager(store Store, tokens *TokenStore, refresher Refresher, rec Recorder, params Params) *Manager {
	if params.Margin <= 0 {
		params.Margin = DefaultMargin
	}
	if params.BackgroundMargin <= 0 {
		params.BackgroundMargin = DefaultBackgroundMargin
	}
	if params.ScanInterval <= 0 {
		params.ScanInterval = DefaultScanInterval
	}
	if params.RetryAttempts <= 0 {
		params.RetryAttempts = 3
	}
	if params.RetryBase <= 0 {
		params.RetryBase = time.Second
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Manager{store: store, tokens: tokens, refresher: refresher, rec: rec, params: params,
		locks: map[string]*sync.Mutex{}}
}

// Register stores a token obtained by the external authorization flow and marks the credential fresh
func (m *Manager) Register(ctx context.Context, id, account string, tok *oauth2.Token) error {
	if err := m.tokens.Save(id, tok); err != nil {
		return err
	}
	path, err := m.tokens.Path(id)
	if err != nil {
		return err
	}
	now := m.params.Now()
	return m.store.UpsertCredential(ctx, &domain.Credential{ID: id, Account: account, State: domain.CredentialFresh,
		Expiry: tok.Expiry, TokenPath: path, LastRefreshAt: &now, UpdatedAt: now})
}

// Acquire returns a session for the channel's credential, refreshing it synchronously if its validity
// is below the margin. Fails with domain.ErrAuthExpired if the credential is unusable or refresh fails.
func (m *Manager) Acquire(ctx context.Context, channelID string) (*Session, error) {
	ch, err := m.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	if ch.CredentialID == "" {
		return nil, domain.Fail(domain.CatAuth, fmt.Errorf("channel %s has no credential: %w", channelID, domain.ErrAuthExpired))
	}

	lock := m.lock(ch.CredentialID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.store.GetCredential(ctx, ch.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", ch.CredentialID, err)
	}
	if cred.State.Terminal() {
		return nil, domain.Fail(domain.CatAuth, fmt.Errorf("credential %s is %s: %w", cred.ID, cred.State, domain.ErrAuthExpired))
	}

	tok, err := m.tokens.Load(cred.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if tok != nil && tok.Expiry.Sub(m.params.Now()) >= m.params.Margin {
		return &Session{CredentialID: cred.ID, Account: cred.Account, Token: tok}, nil
	}

	tok, err = m.refresh(ctx, cred, tok, channelID)
	if err != nil {
		return nil, err
	}
	return &Session{CredentialID: cred.ID, Account: cred.Account, Token: tok}, nil
}

// Scan refreshes every usable credential whose validity is below the background margin.
// Failures mark the credential and pause its channels, they are not returned.
func (m *Manager) Scan(ctx context.Context) {
	creds, err := m.store.GetCredentials(ctx)
	if err != nil {
		log.Printf("[WARN] credential scan, can't list credentials: %v", err)
		return
	}
	for _, cred := range creds {
		if ctx.Err() != nil {
			return
		}
		if cred.State.Terminal() {
			continue
		}
		m.scanOne(ctx, cred.ID)
	}
}

// Run scans credentials immediately and then every scan interval until ctx is canceled
func (m *Manager) Run(ctx context.Context) {
	log.Printf("[INFO] credential refresher started, scan every %v", m.params.ScanInterval)
	m.Scan(ctx)
	ticker := time.NewTicker(m.params.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] credential refresher stopped")
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// MarkNeedsReauth handles an auth error reported by a platform call made with the credential
func (m *Manager) MarkNeedsReauth(ctx context.Context, credentialID, channelID string, cause error) error {
	return m.invalidate(ctx, credentialID, channelID, domain.CredentialNeedsReauth, cause)
}

// Revoke marks a credential revoked on explicit user action and pauses its channels
func (m *Manager) Revoke(ctx context.Context, credentialID string) error {
	return m.invalidate(ctx, credentialID, "", domain.CredentialRevoked, errors.New("revoked by user"))
}

func (m *Manager) scanOne(ctx context.Context, id string) {
	lock := m.lock(id)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.store.GetCredential(ctx, id)
	if err != nil {
		log.Printf("[WARN] credential scan, can't get %s: %v", id, err)
		return
	}
	if cred.State.Terminal() {
		return
	}
	tok, err := m.tokens.Load(id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Printf("[WARN] credential scan, can't load token %s: %v", id, err)
		return
	}
	if tok != nil && tok.Expiry.Sub(m.params.Now()) >= m.params.BackgroundMargin {
		return
	}
	if _, err := m.refresh(ctx, cred, tok, ""); err != nil {
		log.Printf("[WARN] background refresh of %s failed: %v", id, err)
	}
}

// refresh runs fresh -> refreshing -> fresh|needs-reauth, the caller holds the credential lock
func (m *Manager) refresh(ctx context.Context, cred *domain.Credential, tok *oauth2.Token, channelID string) (*oauth2.Token, error) {
	if tok == nil {
		err := fmt.Errorf("no token file for credential %s", cred.ID)
		return nil, m.failRefresh(ctx, cred.ID, channelID, err)
	}
	if _, err := m.store.BeginCredentialRefresh(ctx, cred.ID); err != nil {
		return nil, fmt.Errorf("begin refresh %s: %w", cred.ID, err)
	}

	policy := retry.Policy{Name: "refresh " + cred.ID, Attempts: m.params.RetryAttempts, Base: m.params.RetryBase,
		Cap: 16 * time.Second, Classify: func(err error) domain.ErrorClass {
			if isGrantRejected(err) {
				return domain.ClassAuth
			}
			return domain.ClassTransient
		}}
	var fresh *oauth2.Token
	err := policy.Do(ctx, func(ctx context.Context) error {
		t, err := m.refresher.Refresh(ctx, tok)
		if err != nil {
			return err
		}
		fresh = t
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// shutdown, not a credential problem
			_ = m.store.SetCredentialState(context.WithoutCancel(ctx), cred.ID, domain.CredentialFresh, "")
			return nil, ctx.Err()
		}
		return nil, m.failRefresh(ctx, cred.ID, channelID, err)
	}

	if err := m.tokens.Save(cred.ID, fresh); err != nil {
		return nil, m.failRefresh(ctx, cred.ID, channelID, err)
	}
	if err := m.store.MarkCredentialRefreshed(ctx, cred.ID, fresh.Expiry, m.params.Now()); err != nil {
		return nil, fmt.Errorf("mark refreshed %s: %w", cred.ID, err)
	}
	log.Printf("[INFO] credential %s refreshed, valid until %s", cred.ID, fresh.Expiry.Format(time.RFC3339))
	return fresh, nil
}

func (m *Manager) failRefresh(ctx context.Context, credentialID, channelID string, cause error) error {
	if err := m.invalidate(ctx, credentialID, channelID, domain.CredentialNeedsReauth, cause); err != nil {
		log.Printf("[WARN] can't invalidate credential %s: %v", credentialID, err)
	}
	return domain.Fail(domain.CatAuth, fmt.Errorf("refresh credential %s: %v: %w", credentialID, cause, domain.ErrAuthExpired))
}

func (m *Manager) invalidate(ctx context.Context, credentialID, channelID string, state domain.CredentialState, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := m.store.SetCredentialState(ctx, credentialID, state, cause.Error()); err != nil {
		return fmt.Errorf("set credential %s %s: %w", credentialID, state, err)
	}
	paused, err := m.store.PauseChannelsByCredential(ctx, credentialID, domain.PauseAuth)
	if err != nil {
		return fmt.Errorf("pause channels of %s: %w", credentialID, err)
	}
	payload := map[string]any{"credential": credentialID, "state": state, "paused": paused}
	msg := fmt.Sprintf("credential %s is %s: %v", credentialID, state, cause)
	m.rec.Record(ctx, channelID, domain.SeverityError, domain.CatAuth, msg, payload)
	for _, id := range paused {
		if id == channelID {
			continue
		}
		m.rec.Record(ctx, id, domain.SeverityError, domain.CatAuth, "channel paused, "+msg, payload)
	}
	return nil
}

func (m *Manager) lock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

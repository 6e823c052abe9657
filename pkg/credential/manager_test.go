package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/events"
	"github.com/umputun/shortcast/pkg/repository"
	"github.com/umputun/shortcast/pkg/service"
)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	expiry time.Time
	err    error
}

func (f *fakeRefresher) Refresh(_ context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "new-access", RefreshToken: tok.RefreshToken, Expiry: f.expiry}, nil
}

type env struct {
	store   *service.StoreService
	tokens  *TokenStore
	ref     *fakeRefresher
	manager *Manager
	now     time.Time
}

func setup(t *testing.T) *env {
	t.Helper()
	repos, err := repository.NewRepositories(context.Background(), repository.Config{DSN: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	store := service.NewStoreService(repos)

	tokens, err := NewTokenStore(filepath.Join(t.TempDir(), "tokens"))
	require.NoError(t, err)

	e := &env{store: store, tokens: tokens, now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	e.ref = &fakeRefresher{expiry: e.now.Add(48 * time.Hour)}
	e.manager = NewManager(store, tokens, e.ref, events.NewRecorder(store, "refresh-secret"), Params{
		RetryAttempts: 2, RetryBase: time.Millisecond, Now: func() time.Time { return e.now }})
	return e
}

func (e *env) addChannel(t *testing.T, id string, expiry time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.manager.Register(ctx, "cred-"+id, id+"@example.com",
		&oauth2.Token{AccessToken: "access", RefreshToken: "refresh-secret", Expiry: expiry}))
	require.NoError(t, e.store.CreateChannel(ctx, &domain.Channel{ID: id, Name: id, Format: domain.FormatSequential,
		IntervalMinutes: 60, Active: true, CredentialID: "cred-" + id}))
}

func TestManager_AcquireValidToken(t *testing.T) {
	e := setup(t)
	e.addChannel(t, "ch1", e.now.Add(20*time.Hour))

	s, err := e.manager.Acquire(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, "access", s.Token.AccessToken)
	assert.Equal(t, "ch1@example.com", s.Account)
	assert.Equal(t, 0, e.ref.calls, "validity above margin, no refresh")

	tok, err := s.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
}

func TestManager_AcquireRefreshesBelowMargin(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.addChannel(t, "ch1", e.now.Add(11*time.Hour))

	s, err := e.manager.Acquire(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", s.Token.AccessToken)
	assert.Equal(t, 1, e.ref.calls)

	cred, err := e.store.GetCredential(ctx, "cred-ch1")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialFresh, cred.State)
	assert.Equal(t, e.now.Add(48*time.Hour), cred.Expiry.UTC())

	tok, err := e.tokens.Load("cred-ch1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "refresh-secret", tok.RefreshToken)
}

func TestManager_AcquireRefreshFails(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.addChannel(t, "ch1", e.now.Add(time.Hour))
	e.ref.err = &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}, ErrorCode: "invalid_grant"}

	_, err := e.manager.Acquire(ctx, "ch1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Equal(t, domain.CatAuth, domain.CategoryOf(err))
	assert.Equal(t, 1, e.ref.calls, "rejected grant is not retried")

	cred, err := e.store.GetCredential(ctx, "cred-ch1")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialNeedsReauth, cred.State)

	ch, err := e.store.GetChannel(ctx, "ch1")
	require.NoError(t, err)
	assert.False(t, ch.Active)
	assert.Equal(t, domain.PauseAuth, ch.PauseReason)

	evs, err := e.store.GetEvents(ctx, domain.EventFilter{ChannelID: "ch1", Categories: []domain.Category{domain.CatAuth}})
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, domain.SeverityError, evs[0].Severity)

	// needs-reauth is terminal for acquire, no further refresh attempts
	_, err = e.manager.Acquire(ctx, "ch1")
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Equal(t, 1, e.ref.calls)
}

func TestManager_AcquireTransientRetried(t *testing.T) {
	e := setup(t)
	e.addChannel(t, "ch1", e.now.Add(time.Hour))
	e.ref.err = errors.New("connection reset")

	_, err := e.manager.Acquire(context.Background(), "ch1")
	require.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Equal(t, 2, e.ref.calls)
}

func TestManager_AcquireNoCredential(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	require.NoError(t, e.store.CreateChannel(ctx, &domain.Channel{ID: "ch2", Name: "ch2", Format: domain.FormatRanked,
		IntervalMinutes: 60}))
	_, err := e.manager.Acquire(ctx, "ch2")
	require.ErrorIs(t, err, domain.ErrAuthExpired)

	_, err = e.manager.Acquire(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_Scan(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.addChannel(t, "ok", e.now.Add(30*time.Hour))
	e.addChannel(t, "soon", e.now.Add(20*time.Hour))

	e.manager.Scan(ctx)
	assert.Equal(t, 1, e.ref.calls, "only the credential below background margin")

	tok, err := e.tokens.Load("cred-soon")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	tok, err = e.tokens.Load("cred-ok")
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)

	// background failure pauses the channel instead of returning
	e.now = e.now.Add(10 * time.Hour)
	e.ref.err = &oauth2.RetrieveError{Response: &http.Response{StatusCode: 401}}
	e.manager.Scan(ctx)
	ch, err := e.store.GetChannel(ctx, "ok")
	require.NoError(t, err)
	assert.False(t, ch.Active)
	cred, err := e.store.GetCredential(ctx, "cred-ok")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialNeedsReauth, cred.State)

	ch, err = e.store.GetChannel(ctx, "soon")
	require.NoError(t, err)
	assert.True(t, ch.Active, "refreshed token still valid")
}

func TestManager_RevokeAndMarkNeedsReauth(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.addChannel(t, "ch1", e.now.Add(30*time.Hour))
	e.addChannel(t, "ch2", e.now.Add(30*time.Hour))

	require.NoError(t, e.manager.MarkNeedsReauth(ctx, "cred-ch1", "ch1", errors.New("401 unauthorized")))
	cred, err := e.store.GetCredential(ctx, "cred-ch1")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialNeedsReauth, cred.State)
	assert.Equal(t, "401 unauthorized", cred.LastError)

	require.NoError(t, e.manager.Revoke(ctx, "cred-ch2"))
	cred, err = e.store.GetCredential(ctx, "cred-ch2")
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialRevoked, cred.State)
	ch, err := e.store.GetChannel(ctx, "ch2")
	require.NoError(t, err)
	assert.False(t, ch.Active)

	evs, err := e.store.GetEvents(ctx, domain.EventFilter{Categories: []domain.Category{domain.CatAuth}})
	require.NoError(t, err)
	for _, ev := range evs {
		assert.NotContains(t, string(ev.Payload), "refresh-secret")
	}
}

func TestTokenStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tk")
	ts, err := NewTokenStore(dir)
	require.NoError(t, err)

	_, err = ts.Load("absent")
	require.ErrorIs(t, err, domain.ErrNotFound)

	exp := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ts.Save("cred-1", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: exp}))
	tok, err := ts.Load("cred-1")
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.True(t, exp.Equal(tok.Expiry))

	fi, err := os.Stat(filepath.Join(dir, "cred-1.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	for _, bad := range []string{"../etc", "a/b", "", ".hidden"} {
		_, err := ts.Path(bad)
		assert.Error(t, err, bad)
	}

	_, err = NewTokenStore("")
	require.Error(t, err)
}

func TestOAuthRefresher(t *testing.T) {
	var gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrant, gotRefresh = r.PostForm.Get("grant_type"), r.PostForm.Get("refresh_token")
		if gotRefresh == "bad" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	secret := `{"installed":{"client_id":"cid","client_secret":"cs","redirect_uris":["http://localhost"],` +
		`"auth_uri":"` + srv.URL + `/auth","token_uri":"` + srv.URL + `/token"}}`
	r, err := NewOAuthRefresher([]byte(secret), "scope-a")
	require.NoError(t, err)

	tok, err := r.Refresh(context.Background(), &oauth2.Token{AccessToken: "old", RefreshToken: "rt",
		Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "rt", gotRefresh)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken, "refresh token kept")
	assert.True(t, tok.Expiry.After(time.Now().Add(50*time.Minute)))

	_, err = r.Refresh(context.Background(), &oauth2.Token{RefreshToken: "bad"})
	require.Error(t, err)
	assert.True(t, isGrantRejected(err))

	_, err = r.Refresh(context.Background(), &oauth2.Token{AccessToken: "x"})
	require.Error(t, err)
	assert.False(t, isGrantRejected(err))

	_, err = NewOAuthRefresher([]byte("{}"))
	require.Error(t, err)
}

package youtube

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/quota"
)

type fakeCharger struct{ units int32 }

func (f *fakeCharger) Charge(_ context.Context, provider string, units int) (*domain.ProviderQuota, error) {
	if provider == domain.ProviderUpload {
		atomic.AddInt32(&f.units, int32(units))
	}
	return nil, nil
}

func tokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access-1", Expiry: time.Now().Add(time.Hour)})
}

func artifact(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "final.mp4")
	require.NoError(t, os.WriteFile(p, []byte("video-bytes"), 0o600))
	return p
}

func TestClient_Upload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/youtube/v3/videos", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Query().Get("part"), "snippet")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"selfDeclaredMadeForKids":false`)
		assert.Contains(t, string(body), `"privacyStatus":"public"`)
		assert.Contains(t, string(body), `"title":"Ten Hottest Deserts"`)
		assert.Contains(t, string(body), "video-bytes")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "ext-001"}`))
	}))
	defer srv.Close()

	charger := &fakeCharger{}
	c := NewClient(Params{Endpoint: srv.URL + "/"}, charger)
	id, err := c.Upload(context.Background(), tokenSource(), Video{Path: artifact(t), Title: "Ten Hottest Deserts",
		Description: "desc #deserts", Tags: []string{"deserts"}})
	require.NoError(t, err)
	assert.Equal(t, "ext-001", id)
	assert.Equal(t, int32(DefaultUploadUnits), atomic.LoadInt32(&charger.units))
}

func TestClient_UploadQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "The request cannot be completed because you have exceeded your quota.",
			"errors": [{"reason": "quotaExceeded", "domain": "youtube.quota", "message": "exceeded"}]}}`))
	}))
	defer srv.Close()

	charger := &fakeCharger{}
	c := NewClient(Params{Endpoint: srv.URL + "/"}, charger)
	_, err := c.Upload(context.Background(), tokenSource(), Video{Path: artifact(t), Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasons [quotaExceeded]")
	assert.Equal(t, domain.ClassQuota, quota.NewClassifier().Classify(domain.ProviderUpload, err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&charger.units))
}

func TestClient_UploadErrors(t *testing.T) {
	c := NewClient(Params{Endpoint: "http://127.0.0.1:1/"}, nil)
	_, err := c.Upload(context.Background(), nil, Video{Path: "x"})
	assert.Equal(t, domain.CatAuth, domain.CategoryOf(err))

	_, err = c.Upload(context.Background(), tokenSource(), Video{Path: filepath.Join(t.TempDir(), "missing.mp4")})
	require.Error(t, err)
}

func TestClient_Stats(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/youtube/v3/videos", r.URL.Path)
		assert.Equal(t, "statistics", r.URL.Query().Get("part"))
		assert.Equal(t, []string{"ext-001", "ext-002", "ext-003"}, r.URL.Query()["id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [
			{"id": "ext-001", "statistics": {"viewCount": "42", "likeCount": "5", "commentCount": "1"}},
			{"id": "ext-002", "statistics": {"viewCount": "12"}}]}`))
	}))
	defer srv.Close()

	charger := &fakeCharger{}
	c := NewClient(Params{Endpoint: srv.URL + "/"}, charger)
	stats, err := c.Stats(context.Background(), tokenSource(), []string{"ext-001", "ext-002", "ext-003"})
	require.NoError(t, err)
	assert.Equal(t, map[string]Stats{"ext-001": {Views: 42, Likes: 5, Comments: 1}, "ext-002": {Views: 12}}, stats)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&charger.units))
}

func TestClient_Retention(t *testing.T) {
	rows := `[[61.5]]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/reports", r.URL.Path)
		assert.Equal(t, "video==ext-001", r.URL.Query().Get("filters"))
		assert.Equal(t, "2024-05-03", r.URL.Query().Get("startDate"))
		assert.Equal(t, "2024-05-10", r.URL.Query().Get("endDate"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"columnHeaders": [{"name": "averageViewPercentage"}], "rows": ` + rows + `}`))
	}))
	defer srv.Close()

	c := NewClient(Params{AnalyticsEndpoint: srv.URL + "/"}, nil)
	until := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	res, err := c.Retention(context.Background(), tokenSource(), "ext-001", until.AddDate(0, 0, -7), until)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, 0.615, *res, 0.0001)

	rows = `[]`
	res, err = c.Retention(context.Background(), tokenSource(), "ext-001", until.AddDate(0, 0, -7), until)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "пр", truncate("привет", 2))
	assert.Len(t, []rune(truncate(strings.Repeat("x", 200), 100)), 100)
}

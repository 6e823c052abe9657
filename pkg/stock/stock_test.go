package stock

import (
	"context"
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

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/quota"
)

type fakeCharger struct{ units int32 }

func (f *fakeCharger) Charge(_ context.Context, provider string, units int) (*domain.ProviderQuota, error) {
	if provider == domain.ProviderStock {
		atomic.AddInt32(&f.units, int32(units))
	}
	return nil, nil
}

const searchJSON = `{"videos": [
 {"id": 1, "width": 1920, "height": 1080, "duration": 12, "video_files": [
   {"quality": "hd", "file_type": "video/mp4", "width": 1920, "height": 1080, "link": "%[1]s/files/1-hd.mp4"}]},
 {"id": 2, "width": 1080, "height": 1920, "duration": 8, "video_files": [
   {"quality": "sd", "file_type": "video/mp4", "width": 360, "height": 640, "link": "%[1]s/files/2-sd.mp4"},
   {"quality": "hd", "file_type": "video/mp4", "width": 1080, "height": 1920, "link": "%[1]s/files/2-hd.mp4"},
   {"quality": "uhd", "file_type": "video/mp4", "width": 2160, "height": 3840, "link": "%[1]s/files/2-uhd.mp4"}]},
 {"id": 3, "width": 720, "height": 1280, "duration": 3, "video_files": [
   {"quality": "hd", "file_type": "video/mp4", "width": 720, "height": 1280, "link": "%[1]s/files/3.mp4"}]},
 {"id": 4, "width": 1080, "height": 1920, "duration": 20, "video_files": [
   {"quality": "hd", "file_type": "video/webm", "width": 1080, "height": 1920, "link": "%[1]s/files/4.webm"}]}
]}`

func newServer(t *testing.T, searchStatus *int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/videos/search":
			assert.Equal(t, "stock-key", r.Header.Get("Authorization"))
			if searchStatus != nil {
				if st := atomic.SwapInt32(searchStatus, 0); st != 0 {
					w.WriteHeader(int(st))
					_, _ = w.Write([]byte("try later"))
					return
				}
			}
			assert.Equal(t, "desert dunes", r.URL.Query().Get("query"))
			assert.Equal(t, "portrait", r.URL.Query().Get("orientation"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(strings.ReplaceAll(searchJSON, "%[1]s", srv.URL)))
		case "/files/2-hd.mp4":
			_, _ = w.Write([]byte("clip-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv
}

func testClient(url string, charger Charger) *Client {
	return NewClient(Config{APIKey: "stock-key", BaseURL: url, Rate: time.Millisecond, Attempts: 2,
		RetryBase: time.Millisecond}, quota.NewClassifier().For(domain.ProviderStock), charger)
}

func TestClient_Search(t *testing.T) {
	srv := newServer(t, nil)
	defer srv.Close()

	charger := &fakeCharger{}
	c := testClient(srv.URL, charger)
	clips, err := c.Search(context.Background(), Query{Terms: "desert dunes", Portrait: true, MinHeight: 720, MinDuration: 6})
	require.NoError(t, err)
	require.Len(t, clips, 2, "short clip and webm-only clip dropped")

	assert.Equal(t, "1", clips[0].ID)
	assert.Equal(t, srv.URL+"/files/1-hd.mp4", clips[0].URL)
	assert.False(t, clips[0].Portrait())

	assert.Equal(t, "2", clips[1].ID)
	assert.Equal(t, srv.URL+"/files/2-hd.mp4", clips[1].URL, "full hd file preferred over sd and uhd")
	assert.Equal(t, 1920, clips[1].Height)
	assert.True(t, clips[1].Portrait())
	assert.Equal(t, int32(1), atomic.LoadInt32(&charger.units))

	best, ok := Best(clips, 6)
	require.True(t, ok)
	assert.Equal(t, "2", best.ID)

	out := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, c.Download(context.Background(), best, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "clip-bytes", string(data))
}

func TestClient_SearchRetriesTransient(t *testing.T) {
	status := int32(http.StatusServiceUnavailable)
	srv := newServer(t, &status)
	defer srv.Close()

	clips, err := testClient(srv.URL, nil).Search(context.Background(), Query{Terms: "desert dunes", Portrait: true})
	require.NoError(t, err)
	assert.Len(t, clips, 3)
}

func TestClient_SearchRateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, nil).Search(context.Background(), Query{Terms: "x"})
	require.Error(t, err)
	assert.Equal(t, domain.CatRateLimited, domain.CategoryOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_DownloadNotFound(t *testing.T) {
	srv := newServer(t, nil)
	defer srv.Close()
	err := testClient(srv.URL, nil).Download(context.Background(), Clip{URL: srv.URL + "/files/missing.mp4"},
		filepath.Join(t.TempDir(), "x.mp4"))
	require.Error(t, err)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		clip Clip
		want int
	}{
		{"close and hd", Clip{Duration: 8, Height: 1920}, 110},
		{"within ten", Clip{Duration: 13, Height: 1080}, 60},
		{"far and low", Clip{Duration: 30, Height: 480}, 0},
		{"exact low res", Clip{Duration: 6, Height: 640}, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.clip, 6))
		})
	}
}

func TestBest(t *testing.T) {
	_, ok := Best(nil, 6)
	assert.False(t, ok)

	clips := []Clip{
		{ID: "landscape", Duration: 7, Width: 1920, Height: 1080},
		{ID: "portrait", Duration: 7, Width: 1080, Height: 1920},
		{ID: "far", Duration: 40, Width: 1080, Height: 1920},
	}
	best, ok := Best(clips, 6)
	require.True(t, ok)
	assert.Equal(t, "portrait", best.ID, "tie resolved by orientation")
}

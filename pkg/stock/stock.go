// Package stock searches and downloads stock video clips from a pexels-compatible api
package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/time/rate"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/retry"
)

// DefaultBaseURL of the pexels api
const DefaultBaseURL = "https://api.pexels.com"

// Clip is a downloadable stock video
type Clip struct {
	ID       string
	URL      string
	Duration float64 // seconds
	Width    int
	Height   int
}

// Portrait reports whether the clip is vertical
func (c Clip) Portrait() bool { return c.Height > c.Width }

// Query is a clip search request
type Query struct {
	Terms       string
	Portrait    bool
	MinHeight   int
	MinDuration float64
}

// Charger accounts provider usage
type Charger interface {
	Charge(ctx context.Context, provider string, units int) (*domain.ProviderQuota, error)
}

// Config of the stock client
type Config struct {
	APIKey    string
	BaseURL   string
	PerPage   int
	Rate      time.Duration // min interval between requests
	Timeout   time.Duration // search requests
	Attempts  int
	RetryBase time.Duration
}

// Client talks to the stock clip provider
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	classify func(error) domain.ErrorClass
	charger  Charger
}

// NewClient makes a stock client, charger may be nil
func NewClient(cfg Config, classify func(error) domain.ErrorClass, charger Charger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 15
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		limiter:  rate.NewLimiter(rate.Every(cfg.Rate), 2),
		classify: classify,
		charger:  charger,
	}
}

type searchResponse struct {
	Videos []struct {
		ID         int64   `json:"id"`
		Width      int     `json:"width"`
		Height     int     `json:"height"`
		Duration   float64 `json:"duration"`
		VideoFiles []struct {
			Quality  string `json:"quality"`
			FileType string `json:"file_type"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Link     string `json:"link"`
		} `json:"video_files"`
	} `json:"videos"`
}

// Search returns clips matching the query. Clips below MinHeight or MinDuration are dropped.
func (c *Client) Search(ctx context.Context, q Query) ([]Clip, error) {
	params := url.Values{}
	params.Set("query", q.Terms)
	params.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	if q.Portrait {
		params.Set("orientation", "portrait")
	}
	u := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/videos/search?" + params.Encode()

	var resp searchResponse
	policy := retry.Policy{Name: "stock search", Attempts: c.cfg.Attempts, Base: c.cfg.RetryBase, Cap: 16 * time.Second,
		Classify: c.classify}
	err := policy.Do(ctx, func(ctx context.Context) error {
		resp = searchResponse{}
		return c.get(ctx, u, &resp)
	})
	if err != nil {
		if cat := c.classOf(err).Category(); cat != "" {
			return nil, domain.Fail(cat, fmt.Errorf("stock search %q: %w", q.Terms, err))
		}
		return nil, fmt.Errorf("stock search %q: %w", q.Terms, err)
	}
	if c.charger != nil {
		if _, cerr := c.charger.Charge(ctx, domain.ProviderStock, 1); cerr != nil {
			log.Printf("[WARN] can't charge stock quota: %v", cerr)
		}
	}

	res := make([]Clip, 0, len(resp.Videos))
	for _, v := range resp.Videos {
		best, w, h := "", 0, 0
		for _, f := range v.VideoFiles {
			if f.Link == "" || (f.FileType != "" && f.FileType != "video/mp4") {
				continue
			}
			if better(f.Width, f.Height, w, h) {
				best, w, h = f.Link, f.Width, f.Height
			}
		}
		if best == "" {
			continue
		}
		clip := Clip{ID: strconv.FormatInt(v.ID, 10), URL: best, Duration: v.Duration, Width: w, Height: h}
		if clip.Height < q.MinHeight || clip.Duration < q.MinDuration {
			continue
		}
		res = append(res, clip)
	}
	log.Printf("[DEBUG] stock search %q, %d of %d clips usable", q.Terms, len(res), len(resp.Videos))
	return res, nil
}

// better prefers portrait files, then the one closest to full hd height without going below 720
func better(w, h, curW, curH int) bool {
	if curH == 0 {
		return true
	}
	if (h > w) != (curH > curW) {
		return h > w
	}
	dist := func(v int) int {
		if v < 720 {
			return 10000 + (720 - v)
		}
		if v > 1920 {
			return v - 1920
		}
		return 1920 - v
	}
	return dist(h) < dist(curH)
}

// Download saves the clip to out
func (c *Client) Download(ctx context.Context, clip Clip, out string) error {
	policy := retry.Policy{Name: "stock download", Attempts: c.cfg.Attempts, Base: c.cfg.RetryBase, Cap: 16 * time.Second,
		Classify: c.classify}
	return policy.Do(ctx, func(ctx context.Context) error { return c.download(ctx, clip.URL, out) })
}

func (c *Client) download(ctx context.Context, link, out string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, http.NoBody)
	if err != nil {
		return retry.Permanent(fmt.Errorf("make request: %w", err))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d %s", link, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	f, err := os.Create(out) //nolint:gosec // path is under the item work dir
	if err != nil {
		return retry.Permanent(fmt.Errorf("can't create %s: %w", out, err))
	}
	if _, err = io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(out)
		return fmt.Errorf("download %s: %w", link, err)
	}
	return f.Close()
}

func (c *Client) get(ctx context.Context, u string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return retry.Permanent(fmt.Errorf("make request: %w", err))
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) classOf(err error) domain.ErrorClass {
	if errors.Is(err, context.Canceled) {
		return ""
	}
	if c.classify == nil {
		return domain.ClassPermanent
	}
	return c.classify(err)
}

// Score rates a clip for a segment of target seconds, higher is better
func Score(c Clip, target float64) int {
	diff := c.Duration - target
	if diff < 0 {
		diff = -diff
	}
	score := 0
	if diff < 5 {
		score += 50
	}
	if diff < 10 {
		score += 30
	}
	if c.Height >= 720 {
		score += 30
	}
	return score
}

// Best picks the highest scored clip, ties resolved by portrait orientation then by list order
func Best(clips []Clip, target float64) (Clip, bool) {
	bestIdx, bestScore := -1, -1
	for i, c := range clips {
		s := Score(c, target)
		if s > bestScore || (s == bestScore && c.Portrait() && !clips[bestIdx].Portrait()) {
			bestIdx, bestScore = i, s
		}
	}
	if bestIdx < 0 {
		return Clip{}, false
	}
	return clips[bestIdx], true
}

package trend

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// DefaultUserAgent of feed and article requests
const DefaultUserAgent = "Mozilla/5.0 (compatible; Shortcast/1.0)"

// Entry is a trending topic parsed from the feed
type Entry struct {
	Topic     string
	Volume    string // approximate search volume bucket, like "200K+"
	Category  string
	Summary   string // plain text, sanitized
	Link      string // first related news article, if any
	Published time.Time
}

// FeedReader fetches and parses trend feeds. Google trends extensions (ht:approx_traffic,
// ht:news_item) are read when present, plain rss and atom feeds work too.
type FeedReader struct {
	client    *http.Client
	userAgent string
	policy    *bluemonday.Policy
}

// NewFeedReader makes a reader with given request timeout
func NewFeedReader(timeout time.Duration, userAgent string) *FeedReader {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &FeedReader{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: userAgent,
		policy:    bluemonday.StrictPolicy(),
	}
}

// Read fetches the feed and returns its entries, entries without a topic are skipped
func (r *FeedReader) Read(ctx context.Context, url string) ([]Entry, error) {
	body, err := r.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer body.Close()

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	res := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		e := Entry{Topic: r.plain(item.Title), Link: item.Link}
		if e.Topic == "" {
			continue
		}
		if len(item.Categories) > 0 {
			e.Category = strings.ToLower(strings.TrimSpace(item.Categories[0]))
		}
		if item.PublishedParsed != nil {
			e.Published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			e.Published = *item.UpdatedParsed
		}

		var news []string
		if ht, ok := item.Extensions["ht"]; ok {
			e.Volume = extValue(ht, "approx_traffic")
			for _, n := range ht["news_item"] {
				if title := firstChild(n, "news_item_title"); title != "" {
					news = append(news, r.plain(title))
				}
			}
			// trends feeds link the explore page, the news article carries the context
			if u := firstNewsURL(ht); u != "" {
				e.Link = u
			}
		}

		summary := r.plain(item.Description)
		if summary == "" && len(news) > 0 {
			summary = strings.Join(news, "; ")
		}
		e.Summary = truncate(summary, 500)
		res = append(res, e)
	}
	return res, nil
}

func (r *FeedReader) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	feedHeaders(req, r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// plain strips markup and entities, collapsing whitespace
func (r *FeedReader) plain(s string) string {
	s = html.UnescapeString(r.policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func extValue(m map[string][]ext.Extension, name string) string {
	if vals := m[name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Value)
	}
	return ""
}

func firstChild(e ext.Extension, name string) string {
	if vals := e.Children[name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Value)
	}
	return ""
}

func firstNewsURL(ht map[string][]ext.Extension) string {
	for _, n := range ht["news_item"] {
		if u := firstChild(n, "news_item_url"); u != "" {
			return u
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package trend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markusmobius/go-trafilatura"
)

// ArticleExtractor pulls the main text of a news article linked from a trend
type ArticleExtractor struct {
	client    *http.Client
	userAgent string
	maxLen    int
}

// NewArticleExtractor makes an extractor, text longer than maxLen runes is cut
func NewArticleExtractor(timeout time.Duration, userAgent string, maxLen int) *ArticleExtractor {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if maxLen <= 0 {
		maxLen = 4000
	}
	return &ArticleExtractor{client: &http.Client{Timeout: timeout}, userAgent: userAgent, maxLen: maxLen}
}

// Extract retrieves the page and returns its main text content
func (e *ArticleExtractor) Extract(ctx context.Context, urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", urlStr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	pageHeaders(req, e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d for URL %s", resp.StatusCode, urlStr)
	}

	result, err := trafilatura.Extract(resp.Body, trafilatura.Options{
		EnableFallback:  true,
		ExcludeComments: true,
		ExcludeTables:   true,
		Deduplicate:     true,
		OriginalURL:     parsedURL,
	})
	if err != nil {
		return "", fmt.Errorf("extract content from %s: %w", urlStr, err)
	}
	if result == nil || strings.TrimSpace(result.ContentText) == "" {
		return "", fmt.Errorf("no text content extracted from %s", urlStr)
	}
	return truncate(strings.TrimSpace(result.ContentText), e.maxLen), nil
}

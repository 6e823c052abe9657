// Package youtube uploads videos and reads their statistics through the google api client
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
	"google.golang.org/api/youtubeanalytics/v2"

	"github.com/umputun/shortcast/pkg/domain"
)

// Scopes required from the channel account
var Scopes = []string{youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope, youtubeanalytics.YtAnalyticsReadonlyScope}

// quota costs of the data api
const (
	DefaultUploadUnits = 1600
	listUnits          = 1
)

// Charger accounts provider usage
type Charger interface {
	Charge(ctx context.Context, provider string, units int) (*domain.ProviderQuota, error)
}

// Params of the client, endpoints are for tests and proxies
type Params struct {
	Endpoint          string
	AnalyticsEndpoint string
	UploadUnits       int
	UploadTimeout     time.Duration
	CategoryID        string
}

// Client talks to the upload platform on behalf of a channel session
type Client struct {
	Params
	charger Charger
}

// Video is an upload request
type Video struct {
	Path        string
	Title       string
	Description string
	Tags        []string
	Privacy     string // public by default
}

// Stats are public counters of a published video
type Stats struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// NewClient makes a client, charger may be nil
func NewClient(params Params, charger Charger) *Client {
	if params.UploadUnits <= 0 {
		params.UploadUnits = DefaultUploadUnits
	}
	if params.UploadTimeout <= 0 {
		params.UploadTimeout = 10 * time.Minute
	}
	if params.CategoryID == "" {
		params.CategoryID = "22" // people & blogs
	}
	return &Client{Params: params, charger: charger}
}

// Upload sends the video file and returns the external video id
func (c *Client) Upload(ctx context.Context, ts oauth2.TokenSource, v Video) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.UploadTimeout)
	defer cancel()

	svc, err := c.service(ctx, ts)
	if err != nil {
		return "", err
	}
	f, err := os.Open(v.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	privacy := v.Privacy
	if privacy == "" {
		privacy = "public"
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       truncate(v.Title, 100),
			Description: truncate(v.Description, 5000),
			Tags:        v.Tags,
			CategoryId:  c.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", v.Title, describe(err))
	}
	c.charge(ctx, c.UploadUnits)
	log.Printf("[INFO] uploaded %q as %s", v.Title, res.Id)
	return res.Id, nil
}

// Stats returns counters for video ids, missing videos are absent from the result
func (c *Client) Stats(ctx context.Context, ts oauth2.TokenSource, ids []string) (map[string]Stats, error) {
	svc, err := c.service(ctx, ts)
	if err != nil {
		return nil, err
	}
	res := make(map[string]Stats, len(ids))
	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))
		resp, err := svc.Videos.List([]string{"statistics"}).Id(ids[start:end]...).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("list statistics: %w", describe(err))
		}
		c.charge(ctx, listUnits)
		for _, item := range resp.Items {
			if item.Statistics == nil {
				continue
			}
			res[item.Id] = Stats{
				Views:    int64(item.Statistics.ViewCount),    //nolint:gosec // counters fit int64
				Likes:    int64(item.Statistics.LikeCount),    //nolint:gosec // counters fit int64
				Comments: int64(item.Statistics.CommentCount), //nolint:gosec // counters fit int64
			}
		}
	}
	return res, nil
}

// Retention returns the average viewed fraction of a video since the given day, nil if not reported yet
func (c *Client) Retention(ctx context.Context, ts oauth2.TokenSource, id string, since, until time.Time) (*float64, error) {
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if c.AnalyticsEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.AnalyticsEndpoint))
	}
	svc, err := youtubeanalytics.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("make analytics service: %w", err)
	}
	resp, err := svc.Reports.Query().Ids("channel==MINE").
		StartDate(since.UTC().Format("2006-01-02")).EndDate(until.UTC().Format("2006-01-02")).
		Metrics("averageViewPercentage").Filters("video==" + id).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("query retention of %s: %w", id, describe(err))
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0]) == 0 {
		return nil, nil
	}
	pct, ok := resp.Rows[0][0].(float64)
	if !ok {
		return nil, fmt.Errorf("unexpected retention value %v", resp.Rows[0][0])
	}
	frac := min(max(pct/100, 0), 1)
	return &frac, nil
}

func (c *Client) service(ctx context.Context, ts oauth2.TokenSource) (*youtube.Service, error) {
	if ts == nil {
		return nil, domain.Fail(domain.CatAuth, errors.New("no token source"))
	}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("make youtube service: %w", err)
	}
	return svc, nil
}

func (c *Client) charge(ctx context.Context, units int) {
	if c.charger == nil {
		return
	}
	if _, err := c.charger.Charge(ctx, domain.ProviderUpload, units); err != nil {
		log.Printf("[WARN] can't charge upload quota: %v", err)
	}
}

// describe adds api error reasons to the message, the classifier matches on them
func describe(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	reasons := make([]string, 0, len(gerr.Errors))
	for _, e := range gerr.Errors {
		if e.Reason != "" {
			reasons = append(reasons, e.Reason)
		}
	}
	if len(reasons) == 0 {
		return fmt.Errorf("status %d %s: %w", gerr.Code, http.StatusText(gerr.Code), err)
	}
	return fmt.Errorf("status %d, reasons [%s]: %w", gerr.Code, strings.Join(reasons, ","), err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

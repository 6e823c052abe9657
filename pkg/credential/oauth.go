package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuthRefresher refreshes tokens against the oauth2 token endpoint of the upload platform
type OAuthRefresher struct {
	cfg *oauth2.Config
}

// NewOAuthRefresher makes a refresher from the client secret json downloaded from the platform console
func NewOAuthRefresher(clientSecretJSON []byte, scopes ...string) (*OAuthRefresher, error) {
	cfg, err := google.ConfigFromJSON(clientSecretJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	return &OAuthRefresher{cfg: cfg}, nil
}

// NewOAuthRefresherWithConfig makes a refresher from a prepared oauth2 config
func NewOAuthRefresherWithConfig(cfg *oauth2.Config) *OAuthRefresher {
	return &OAuthRefresher{cfg: cfg}
}

// Refresh exchanges the refresh token for a new access token regardless of current validity
func (r *OAuthRefresher) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil || tok.RefreshToken == "" {
		return nil, errors.New("no refresh token")
	}
	// expired copy forces the token source to hit the endpoint
	stale := &oauth2.Token{RefreshToken: tok.RefreshToken, Expiry: time.Unix(1, 0)}
	res, err := r.cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if res.RefreshToken == "" {
		res.RefreshToken = tok.RefreshToken
	}
	return res, nil
}

// isGrantRejected reports whether the token endpoint rejected the grant itself,
// as opposed to a network or server failure
func isGrantRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode != "" {
		return re.ErrorCode != "temporarily_unavailable" && re.ErrorCode != "server_error"
	}
	return re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
}

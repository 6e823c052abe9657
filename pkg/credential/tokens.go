package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/oauth2"

	"github.com/umputun/shortcast/pkg/domain"
)

// TokenStore keeps oauth tokens as json files, one per credential, under a single directory
type TokenStore struct {
	dir string
}

var reCredentialID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewTokenStore makes a token store in dir, creating it if missing
func NewTokenStore(dir string) (*TokenStore, error) {
	if dir == "" {
		return nil, errors.New("empty token dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token dir %s: %w", dir, err)
	}
	return &TokenStore{dir: dir}, nil
}

// Path returns the token file of a credential
func (s *TokenStore) Path(id string) (string, error) {
	if !reCredentialID.MatchString(id) {
		return "", fmt.Errorf("invalid credential id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Load reads the token of a credential, domain.ErrNotFound if there is no token file
func (s *TokenStore) Load(id string) (*oauth2.Token, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is built from validated id
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("token for %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read token %s: %w", path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	return &tok, nil
}

// Save writes the token of a credential atomically with owner-only permissions
func (s *TokenStore) Save(id string, tok *oauth2.Token) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // removed by rename on success
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename token: %w", err)
	}
	return nil
}

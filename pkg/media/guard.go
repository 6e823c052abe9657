package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/umputun/shortcast/pkg/domain"
)

// PathGuard allows file arguments only under configured directories
type PathGuard struct {
	dirs []string
}

// NewPathGuard makes a guard for the given directories
func NewPathGuard(dirs ...string) (*PathGuard, error) {
	res := &PathGuard{}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", d, err)
		}
		res.dirs = append(res.dirs, filepath.Clean(abs))
	}
	if len(res.dirs) == 0 {
		return nil, errors.New("no allowed directories")
	}
	return res, nil
}

// Check returns the absolute clean path if it lies under one of the allowed directories
func (g *PathGuard) Check(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", domain.Fail(domain.CatValidation, fmt.Errorf("invalid path %q", path))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", domain.Fail(domain.CatValidation, fmt.Errorf("resolve %s: %w", path, err))
	}
	abs = filepath.Clean(abs)
	for _, d := range g.dirs {
		rel, err := filepath.Rel(d, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", domain.Fail(domain.CatValidation, fmt.Errorf("path %s outside of allowed directories", path))
}

// Dirs returns allowed directories
func (g *PathGuard) Dirs() []string {
	return append([]string(nil), g.dirs...)
}

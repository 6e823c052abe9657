package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
)

// Maintain prunes old events and removes leftover artifacts
func (s *Supervisor) Maintain(ctx context.Context) {
	n, err := s.Store.PruneEvents(ctx, s.params.Now().Add(-s.params.EventRetention))
	if err != nil {
		s.checkFatal(err)
		log.Printf("[WARN] prune events: %v", err)
	}
	if n > 0 {
		log.Printf("[INFO] %d events older than %v pruned", n, s.params.EventRetention)
	}
	work, out := s.CleanArtifacts(ctx)
	if work > 0 || out > 0 {
		log.Printf("[INFO] removed %d stale work dirs and %d artifacts", work, out)
	}
}

// CleanArtifacts removes work directories of items not being generated and final artifacts of
// items published or failed longer than the artifact retention ago
func (s *Supervisor) CleanArtifacts(ctx context.Context) (work, out int) {
	if s.params.WorkDir != "" {
		entries, err := os.ReadDir(s.params.WorkDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] can't read work dir %s: %v", s.params.WorkDir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			item, ok := s.item(ctx, e.Name())
			if !ok || (item != nil && item.Status == domain.StatusGenerating) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(s.params.WorkDir, e.Name())); err != nil {
				log.Printf("[WARN] can't remove work dir %s: %v", e.Name(), err)
				continue
			}
			work++
		}
	}

	if s.params.OutputDir != "" {
		entries, err := os.ReadDir(s.params.OutputDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] can't read output dir %s: %v", s.params.OutputDir, err)
		}
		cutoff := s.params.Now().Add(-s.params.ArtifactRetention)
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".mp4" {
				continue
			}
			item, ok := s.item(ctx, strings.TrimSuffix(e.Name(), ".mp4"))
			if !ok {
				continue
			}
			if item != nil {
				if item.Status != domain.StatusPublished && item.Status != domain.StatusFailed {
					continue
				}
				if item.UpdatedAt.After(cutoff) {
					continue
				}
			}
			if err := os.Remove(filepath.Join(s.params.OutputDir, e.Name())); err != nil {
				log.Printf("[WARN] can't remove artifact %s: %v", e.Name(), err)
				continue
			}
			out++
		}
	}
	return work, out
}

// item loads an item by id, nil item with ok for unknown ids, not ok on store errors
func (s *Supervisor) item(ctx context.Context, id string) (*domain.Item, bool) {
	item, err := s.Store.GetItem(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, true
	case err != nil:
		log.Printf("[WARN] can't get item %s: %v", id, err)
		return nil, false
	}
	return item, true
}

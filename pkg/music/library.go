// Package music indexes a local background music library by mood tags.
// A track gets the tags of its parent directory name and of its file name tokens,
// plus any listed for it in an optional index.yml at the library root.
package music

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"

	"github.com/umputun/shortcast/pkg/domain"
)

// IndexFile is the optional tag index at the library root, mapping relative paths to mood lists
const IndexFile = "index.yml"

var audioExt = map[string]bool{".mp3": true, ".wav": true, ".m4a": true, ".aac": true, ".ogg": true, ".flac": true}

// Track is a music file with its mood tags
type Track struct {
	Path  string
	Moods []string
}

// Library is an immutable mood index of a music directory
type Library struct {
	dir    string
	tracks []Track
	byMood map[string][]int
	pick   func(n int) int
}

// Open scans dir recursively and builds the mood index
func Open(dir string) (*Library, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("music library %s: %w", dir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("music library %s is not a directory", dir)
	}

	extra, err := loadIndex(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, err
	}

	l := &Library{dir: dir, byMood: map[string][]int{}, pick: rand.IntN}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !audioExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		moods := tagsOf(rel)
		moods = append(moods, extra[filepath.ToSlash(rel)]...)
		l.add(Track{Path: path, Moods: dedup(moods)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan music library: %w", err)
	}
	log.Printf("[INFO] music library %s, %d tracks, %d moods", dir, len(l.tracks), len(l.byMood))
	return l, nil
}

func loadIndex(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // library path from config
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read music index: %w", err)
	}
	var res map[string][]string
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse music index %s: %w", path, err)
	}
	for k, v := range res {
		for i := range v {
			v[i] = strings.ToLower(strings.TrimSpace(v[i]))
		}
		res[k] = v
	}
	return res, nil
}

func (l *Library) add(t Track) {
	idx := len(l.tracks)
	l.tracks = append(l.tracks, t)
	for _, m := range t.Moods {
		l.byMood[m] = append(l.byMood[m], idx)
	}
}

// tagsOf derives tags from the directory names and the file name tokens of a relative path
func tagsOf(rel string) []string {
	var res []string
	dir, file := filepath.Split(filepath.ToSlash(rel))
	for _, d := range strings.Split(strings.Trim(dir, "/"), "/") {
		if d != "" {
			res = append(res, strings.ToLower(d))
		}
	}
	name := strings.TrimSuffix(file, filepath.Ext(file))
	for _, tok := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}) {
		if len(tok) > 2 {
			res = append(res, tok)
		}
	}
	return res
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	res := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		res = append(res, s)
	}
	return res
}

// Len returns the number of indexed tracks
func (l *Library) Len() int { return len(l.tracks) }

// Moods returns all known mood tags sorted
func (l *Library) Moods() []string {
	res := make([]string, 0, len(l.byMood))
	for m := range l.byMood {
		res = append(res, m)
	}
	sort.Strings(res)
	return res
}

// Pick returns a random track of the first mood with tracks, in preference order
func (l *Library) Pick(moods ...string) (Track, bool) {
	for _, m := range moods {
		idx := l.byMood[strings.ToLower(m)]
		if len(idx) == 0 {
			continue
		}
		return l.tracks[idx[l.pick(len(idx))]], true
	}
	return Track{}, false
}

// MoodsFor returns mood tags in preference order for a format and channel tone
func MoodsFor(format domain.Format, tone string) []string {
	var res []string
	tone = strings.ToLower(tone)
	switch {
	case strings.Contains(tone, "calm"), strings.Contains(tone, "relax"), strings.Contains(tone, "gentle"):
		res = append(res, "calm")
	case strings.Contains(tone, "energetic"), strings.Contains(tone, "upbeat"), strings.Contains(tone, "fun"):
		res = append(res, "upbeat")
	case strings.Contains(tone, "dark"), strings.Contains(tone, "mysterious"), strings.Contains(tone, "eerie"):
		res = append(res, "dark")
	case strings.Contains(tone, "inspir"), strings.Contains(tone, "epic"):
		res = append(res, "epic")
	}
	switch format {
	case domain.FormatSequential:
		res = append(res, "upbeat")
	case domain.FormatRanked:
		res = append(res, "dramatic", "epic")
	case domain.FormatTrend:
		res = append(res, "news", "neutral")
	}
	return dedup(append(res, "neutral", "ambient"))
}

// Package media drives the external encoder and probe binaries. Commands are built as argument lists
// from whitelisted flags, every file argument is checked against the allowed directories.
package media

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/umputun/shortcast/pkg/domain"
)

// binary names
const (
	FFmpeg  = "ffmpeg"
	FFprobe = "ffprobe"
	Espeak  = "espeak-ng"
)

// Binaries are resolved locations of external tools, Espeak is optional and may be empty
type Binaries struct {
	FFmpeg  string
	FFprobe string
	Espeak  string
}

// FindBinary searches name in the given directories, PATH is used only if no directories set
func FindBinary(name string, paths []string) (string, error) {
	for _, dir := range paths {
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err == nil && !fi.IsDir() && fi.Mode().Perm()&0o111 != 0 {
			return p, nil
		}
	}
	if len(paths) == 0 {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", domain.Fail(domain.CatDependencyMissing, fmt.Errorf("%s not found in %v: %w", name, paths, domain.ErrDependencyMissing))
}

// Locate resolves all binaries, encoder and probe are required
func Locate(paths []string) (Binaries, error) {
	var res Binaries
	var err error
	if res.FFmpeg, err = FindBinary(FFmpeg, paths); err != nil {
		return res, err
	}
	if res.FFprobe, err = FindBinary(FFprobe, paths); err != nil {
		return res, err
	}
	res.Espeak, _ = FindBinary(Espeak, paths) // fallback voice only
	return res, nil
}

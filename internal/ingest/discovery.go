package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
)

// Candidate is a file found in an intake folder.
type Candidate struct {
	Business *entity.Business
	Kind     constants.Kind
	Path     string
	Size     int64
	ModTime  time.Time
}

// IntakeDir is the folder below a business intake root holding documents of kind.
func IntakeDir(biz *entity.Business, kind constants.Kind) string {
	return filepath.Join(biz.IntakePath, kind.Folder())
}

// Discover lists candidate files of one intake folder, sorted by name. Only
// the folder itself is read; subfolders are not descended into. A missing
// folder yields no candidates.
func Discover(biz *entity.Business, kind constants.Kind) ([]Candidate, error) {
	dir := IntakeDir(biz, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read intake %s: %w", dir, err)
	}

	var out []Candidate
	for _, e := range entries {
		if !e.Type().IsRegular() || !Eligible(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, Candidate{
			Business: biz,
			Kind:     kind,
			Path:     filepath.Join(dir, e.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Eligible reports whether a file name may be picked up: an allowed extension,
// not hidden and not a temporary download name.
func Eligible(name string) bool {
	if IsHidden(name) || IsPartial(name) {
		return false
	}
	return AllowedExt(filepath.Ext(name))
}

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// IsPartial reports names that mark a file still being written.
func IsPartial(path string) bool {
	lower := strings.ToLower(filepath.Base(path))
	for _, suffix := range constants.PartialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

type observation struct {
	size    int64
	modTime time.Time
}

// stabilityTracker decides whether a file has finished being written. A file
// is stable when size and mtime did not change between two consecutive
// observations, or when its mtime is older than settleAge.
type stabilityTracker struct {
	settleAge time.Duration
	now       func() time.Time
	seen      map[string]observation
}

func newStabilityTracker(settleAge time.Duration) *stabilityTracker {
	return &stabilityTracker{
		settleAge: settleAge,
		now:       time.Now,
		seen:      make(map[string]observation),
	}
}

// Observe records c and reports whether it is stable.
func (s *stabilityTracker) Observe(c Candidate) bool {
	cur := observation{size: c.Size, modTime: c.ModTime}
	prev, ok := s.seen[c.Path]
	s.seen[c.Path] = cur
	if ok && prev.size == cur.size && prev.modTime.Equal(cur.modTime) {
		return true
	}
	return s.now().Sub(c.ModTime) >= s.settleAge
}

// Forget drops observations of paths not in keep.
func (s *stabilityTracker) Forget(keep map[string]struct{}) {
	for p := range s.seen {
		if _, ok := keep[p]; !ok {
			delete(s.seen, p)
		}
	}
}

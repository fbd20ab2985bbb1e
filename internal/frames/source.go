// Package frames delivers preview frames to the pipeline: sources, scene
// de-duplication and the ticker-driven pump.
package frames

import (
	"crypto/md5"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

// Source yields encoded preview frames. changed is false when the frame is
// byte-identical (by prefix hash) to the previous one.
type Source interface {
	Capture() (data []byte, changed bool)
	Close()
}

// changeDetector provides shared hash-based change detection.
type changeDetector struct {
	lastHash [16]byte
}

func (c *changeDetector) changed(data []byte) bool {
	hash := md5.Sum(data[:min(len(data), ChangeDetectPrefix)])
	if hash == c.lastHash {
		return false
	}
	c.lastHash = hash
	return true
}

// DirSource replays image files from a directory in name order, cycling.
type DirSource struct {
	mu    sync.Mutex
	dir   string
	files []string
	next  int
	det   changeDetector
}

// NewDirSource lists dir once. A directory without frames is
// ResourceUnavailable.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeResourceUnavailable, "open frame dir %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, apperrors.Newf(apperrors.CodeResourceUnavailable, "no frames in %s", dir)
	}
	slices.Sort(files)
	return &DirSource{dir: dir, files: files}, nil
}

// Capture reads the next file.
func (s *DirSource) Capture() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, s.det.changed(data)
}

// Len returns the number of frames replayed per cycle.
func (s *DirSource) Len() int { return len(s.files) }

// Close is a no-op; files are read per capture.
func (s *DirSource) Close() {}

package frames

import (
	"image"
	"log/slog"
	"sync"

	"github.com/corona10/goimagehash"
)

// Deduper recognizes frames showing the same scene as the last admitted one
// by perceptual hash distance.
type Deduper struct {
	maxDistance int

	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
}

// NewDeduper treats frames within maxDistance bits as similar.
func NewDeduper(maxDistance int) *Deduper {
	if maxDistance < 0 {
		maxDistance = DefaultMaxHashDistance
	}
	return &Deduper{maxDistance: maxDistance}
}

// Similar hashes img and compares it with the last remembered frame. The
// returned hash is nil when hashing failed; such frames are never similar.
func (d *Deduper) Similar(img image.Image) (*goimagehash.ImageHash, bool) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastHash == nil {
		return hash, false
	}
	dist, err := d.lastHash.Distance(hash)
	if err != nil {
		return hash, false
	}
	if dist <= d.maxDistance {
		slog.Debug("skipping similar frame", "distance", dist)
		return hash, true
	}
	return hash, false
}

// Remember records hash as the last admitted frame.
func (d *Deduper) Remember(hash *goimagehash.ImageHash) {
	if hash == nil {
		return
	}
	d.mu.Lock()
	d.lastHash = hash
	d.mu.Unlock()
}

// Forget drops the remembered frame so the next one is always admitted.
func (d *Deduper) Forget() {
	d.mu.Lock()
	d.lastHash = nil
	d.mu.Unlock()
}

package frames

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corona10/goimagehash"
	"golang.org/x/image/draw"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/pipeline"
)

// Admitter is the pipeline entry point. Admitting is a cheap check made
// before a frame is cropped and encoded; OnFrame still has the final say.
type Admitter interface {
	Admitting() bool
	OnFrame(f pipeline.Frame) bool
}

// Framer supplies the viewfinder rectangle in preview pixels.
type Framer interface {
	CaptureFrame() image.Rectangle
}

// Pump normalizes frames to the preview size, crops them to the viewfinder
// and offers them to the pipeline.
type Pump struct {
	admit   Admitter
	framer  Framer
	preview image.Rectangle
	dedupe  *Deduper // nil disables similar-frame skipping

	mu     sync.RWMutex
	latest image.Image

	similar atomic.Uint64
}

// NewPump creates a pump for frames of the given preview size.
func NewPump(admit Admitter, framer Framer, preview image.Point, dedupe *Deduper) *Pump {
	return &Pump{
		admit:   admit,
		framer:  framer,
		preview: image.Rectangle{Max: preview},
		dedupe:  dedupe,
	}
}

// Run polls src at rate Hz until ctx is done.
func (p *Pump) Run(ctx context.Context, src Source, rate float64) error {
	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, changed := src.Capture()
			if !changed || data == nil {
				continue
			}
			if _, err := p.Offer(data); err != nil {
				slog.Debug("frame rejected", "error", err)
			}
		}
	}
}

// Offer decodes one encoded preview frame and offers its viewfinder crop.
// It reports whether the pipeline admitted it. The decoded frame always
// becomes Latest; cropping and encoding are skipped while the pipeline is
// busy.
func (p *Pump) Offer(data []byte) (bool, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "decode frame")
	}
	img = p.normalize(img)

	p.mu.Lock()
	p.latest = img
	p.mu.Unlock()

	if !p.admit.Admitting() {
		return false, nil
	}

	capture := p.framer.CaptureFrame().Intersect(p.preview)
	if capture.Empty() {
		return false, apperrors.New(apperrors.CodeInvalidArgument, "viewfinder outside preview")
	}
	crop := image.NewRGBA(image.Rectangle{Max: capture.Size()})
	draw.Draw(crop, crop.Bounds(), img, capture.Min, draw.Src)

	var hash *goimagehash.ImageHash
	if p.dedupe != nil {
		h, similar := p.dedupe.Similar(crop)
		if similar {
			p.similar.Add(1)
			return false, nil
		}
		hash = h
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeInternal, "encode frame")
	}

	admitted := p.admit.OnFrame(pipeline.Frame{Image: buf.Bytes(), Capture: capture, CapturedAt: time.Now()})
	if admitted && p.dedupe != nil {
		p.dedupe.Remember(hash)
	}
	return admitted, nil
}

// normalize scales frames that do not match the configured preview size.
func (p *Pump) normalize(img image.Image) image.Image {
	b := img.Bounds()
	if b == p.preview {
		return img
	}
	dst := image.NewRGBA(p.preview)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Latest returns the most recent frame at preview size, or nil.
func (p *Pump) Latest() image.Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Similar counts frames skipped as duplicates of the last admitted scene.
func (p *Pump) Similar() uint64 { return p.similar.Load() }

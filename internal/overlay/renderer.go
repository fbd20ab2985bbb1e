package overlay

import (
	"image"
	"image/color"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/ocr"
)

// DrawStats reports what one Draw produced.
type DrawStats struct {
	Backgrounds int `json:"backgrounds"`
	Glyphs      int `json:"glyphs"`
	Skipped     int `json:"skipped"`
}

// Renderer composites the overlay. Draw calls are serialized.
type Renderer struct {
	threshold int

	mu  sync.Mutex
	fit *fitter
}

// NewRenderer creates a renderer drawing words whose confidence exceeds threshold.
func NewRenderer(threshold int) (*Renderer, error) {
	f, err := newFitter()
	if err != nil {
		return nil, err
	}
	return &Renderer{threshold: threshold, fit: f}, nil
}

// Threshold returns the word render confidence.
func (r *Renderer) Threshold() int { return r.threshold }

// Draw paints decoration and, when res is confident enough, word backgrounds
// and mirrored glyphs onto dst. A nil res only paints the decoration.
func (r *Renderer) Draw(dst draw.Image, g Geometry, res *ocr.Result) DrawStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats DrawStats
	drawMask(dst, g)
	if res != nil && res.MeanConfidence > r.threshold {
		stats = r.drawWords(dst, g, res)
	}
	drawFrame(dst, g.Frame)
	return stats
}

// Render draws onto a fresh viewport-sized canvas, optionally over background
// scaled to fill the viewport.
func (r *Renderer) Render(g Geometry, res *ocr.Result, background image.Image) (*image.RGBA, DrawStats, error) {
	if err := g.Validate(); err != nil {
		return nil, DrawStats{}, err
	}
	canvas := image.NewRGBA(g.Viewport)
	if background != nil && !background.Bounds().Empty() {
		draw.ApproxBiLinear.Scale(canvas, g.Viewport, background, background.Bounds(), draw.Src, nil)
	}
	stats := r.Draw(canvas, g, res)
	return canvas, stats, nil
}

func (r *Renderer) drawWords(dst draw.Image, g Geometry, res *ocr.Result) DrawStats {
	var stats DrawStats

	words := res.Words()
	n := min(len(res.WordBoxes), len(res.WordConfidences), MaxWords)
	if len(words) != len(res.WordBoxes) || len(res.WordBoxes) != len(res.WordConfidences) {
		slog.Debug("word split does not match boxes, skipping unmatched words",
			"code", apperrors.CodeMalformedResult,
			"words", len(words), "boxes", len(res.WordBoxes), "confidences", len(res.WordConfidences))
	}

	for i := 0; i < n; i++ {
		box := g.MapBox(res.WordBoxes[i])
		conf := res.WordConfidences[i]
		fill(dst, box, WordBackground(conf))
		stats.Backgrounds++

		if conf <= r.threshold {
			continue
		}
		if i >= len(words) {
			stats.Skipped++
			continue
		}
		if err := r.drawGlyph(dst, box, ocr.Mirror(words[i])); err != nil {
			slog.Debug("skipping word", "index", i, "error", err)
			stats.Skipped++
			continue
		}
		stats.Glyphs++
	}
	return stats
}

func (r *Renderer) drawGlyph(dst draw.Image, box image.Rectangle, text string) error {
	clipped := box.Intersect(dst.Bounds())
	if clipped.Empty() {
		return apperrors.New(apperrors.CodeMalformedResult, "word box outside canvas")
	}
	mask, err := r.fit.fit(text, box)
	if err != nil {
		return err
	}
	draw.DrawMask(dst, clipped, image.NewUniform(TextColor), image.Point{},
		mask, clipped.Min.Sub(box.Min), draw.Over)
	return nil
}

// drawMask darkens everything outside the frame.
func drawMask(dst draw.Image, g Geometry) {
	v, f := g.Viewport, g.Frame
	c := MaskColor
	fill(dst, image.Rect(v.Min.X, v.Min.Y, v.Max.X, f.Min.Y), c)
	fill(dst, image.Rect(v.Min.X, f.Min.Y, f.Min.X, f.Max.Y), c)
	fill(dst, image.Rect(f.Max.X, f.Min.Y, v.Max.X, f.Max.Y), c)
	fill(dst, image.Rect(v.Min.X, f.Max.Y, v.Max.X, v.Max.Y), c)
}

// drawFrame draws the border inside the frame edges, then L-shaped corner
// marks straddling each corner.
func drawFrame(dst draw.Image, f image.Rectangle) {
	const b, k = BorderWidth, CornerLength

	fill(dst, image.Rect(f.Min.X, f.Min.Y, f.Max.X, f.Min.Y+b), FrameColor)
	fill(dst, image.Rect(f.Min.X, f.Min.Y+b, f.Min.X+b, f.Max.Y-b), FrameColor)
	fill(dst, image.Rect(f.Max.X-b, f.Min.Y+b, f.Max.X, f.Max.Y-b), FrameColor)
	fill(dst, image.Rect(f.Min.X, f.Max.Y-b, f.Max.X, f.Max.Y), FrameColor)

	corners := []image.Rectangle{
		image.Rect(f.Min.X-k, f.Min.Y-k, f.Min.X+k, f.Min.Y),
		image.Rect(f.Min.X-k, f.Min.Y, f.Min.X, f.Min.Y+k),
		image.Rect(f.Max.X-k, f.Min.Y-k, f.Max.X+k, f.Min.Y),
		image.Rect(f.Max.X, f.Min.Y-k, f.Max.X+k, f.Min.Y+k),
		image.Rect(f.Min.X-k, f.Max.Y, f.Min.X+k, f.Max.Y+k),
		image.Rect(f.Min.X-k, f.Max.Y-k, f.Min.X, f.Max.Y),
		image.Rect(f.Max.X-k, f.Max.Y, f.Max.X+k, f.Max.Y+k),
		image.Rect(f.Max.X, f.Max.Y-k, f.Max.X+k, f.Max.Y+k),
	}
	for _, r := range corners {
		fill(dst, r, CornerColor)
	}
}

func fill(dst draw.Image, r image.Rectangle, c color.Color) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

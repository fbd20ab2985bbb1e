package overlay

import "image/color"

// Overlay drawing constants
const (
	// Words beyond this index are not drawn
	MaxWords = 100

	// Default confidence a result and a word must exceed to be drawn
	DefaultWordRenderConfidence = 35

	// Text size glyphs are first measured at
	ReferenceTextSize = 100.0

	// Frame decoration
	BorderWidth  = 2
	CornerLength = 15

	// Faces kept per renderer before the cache is reset
	maxCachedFaces = 64
)

var (
	MaskColor   = color.NRGBA{R: 0x00, G: 0x00, B: 0x00, A: 0x60}
	FrameColor  = color.NRGBA{R: 0xCC, G: 0xCC, B: 0xCC, A: 0xFF}
	CornerColor = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	TextColor   = color.NRGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xFF}
)

// WordBackground is white with opacity proportional to confidence (0..100).
func WordBackground(confidence int) color.NRGBA {
	confidence = max(0, min(confidence, 100))
	return color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: uint8(confidence * 255 / 100)}
}

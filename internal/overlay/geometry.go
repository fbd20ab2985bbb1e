// Package overlay draws the viewfinder decoration and the mirrored words of
// the current recognition result.
package overlay

import (
	"image"
	"math"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

// Geometry is supplied per draw. Viewport and Frame are display pixels;
// CaptureFrame is the same rectangle in preview pixels, the space the engine
// reports boxes in.
type Geometry struct {
	Viewport     image.Rectangle
	Frame        image.Rectangle
	CaptureFrame image.Rectangle
}

// Validate rejects geometry that cannot be scaled.
func (g Geometry) Validate() error {
	switch {
	case g.Viewport.Empty():
		return apperrors.New(apperrors.CodeInvalidArgument, "empty viewport")
	case g.Frame.Empty():
		return apperrors.New(apperrors.CodeInvalidArgument, "empty viewfinder frame")
	case g.CaptureFrame.Empty():
		return apperrors.New(apperrors.CodeInvalidArgument, "empty capture frame")
	}
	return nil
}

// Scale returns the capture-to-display factors.
func (g Geometry) Scale() (sx, sy float64) {
	if g.CaptureFrame.Empty() {
		return 0, 0
	}
	return float64(g.Frame.Dx()) / float64(g.CaptureFrame.Dx()),
		float64(g.Frame.Dy()) / float64(g.CaptureFrame.Dy())
}

// MapBox maps a box relative to the captured image into display pixels.
func (g Geometry) MapBox(r image.Rectangle) image.Rectangle {
	sx, sy := g.Scale()
	return image.Rect(
		g.Frame.Min.X+round(float64(r.Min.X)*sx),
		g.Frame.Min.Y+round(float64(r.Min.Y)*sy),
		g.Frame.Min.X+round(float64(r.Max.X)*sx),
		g.Frame.Min.Y+round(float64(r.Max.Y)*sy),
	)
}

func round(f float64) int {
	return int(math.Round(f))
}

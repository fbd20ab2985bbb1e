package overlay

import (
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

var (
	parseOnce  sync.Once
	parsedFont *opentype.Font
	parseErr   error
)

func defaultFont() (*opentype.Font, error) {
	parseOnce.Do(func() {
		parsedFont, parseErr = opentype.Parse(goregular.TTF)
	})
	return parsedFont, parseErr
}

// fitter sizes glyph runs into boxes. Faces are cached per quarter point.
// Not safe for concurrent use.
type fitter struct {
	font  *opentype.Font
	faces map[int]font.Face
}

func newFitter() (*fitter, error) {
	f, err := defaultFont()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "parse overlay font")
	}
	return &fitter{font: f, faces: make(map[int]font.Face)}, nil
}

func (f *fitter) face(size float64) (font.Face, error) {
	key := int(math.Round(size * 4))
	if face, ok := f.faces[key]; ok {
		return face, nil
	}
	if len(f.faces) >= maxCachedFaces {
		f.reset()
	}
	face, err := opentype.NewFace(f.font, &opentype.FaceOptions{
		Size:    float64(key) / 4,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, err
	}
	f.faces[key] = face
	return face, nil
}

func (f *fitter) reset() {
	for k, face := range f.faces {
		_ = face.Close()
		delete(f.faces, k)
	}
}

// fit renders text as a coverage mask exactly box-sized. The glyph height is
// fitted first at ReferenceTextSize, then the run is scaled horizontally
// only, with the baseline placed so descenders stay inside the box.
func (f *fitter) fit(text string, box image.Rectangle) (*image.Alpha, error) {
	if box.Dx() < 1 || box.Dy() < 1 {
		return nil, apperrors.New(apperrors.CodeMalformedResult, "empty word box")
	}

	ref, err := f.face(ReferenceTextSize)
	if err != nil {
		return nil, err
	}
	bounds, _ := font.BoundString(ref, text)
	refHeight := toFloat(bounds.Max.Y - bounds.Min.Y)
	if refHeight <= 0 {
		return nil, apperrors.Newf(apperrors.CodeMalformedResult, "no ink for %q", text)
	}

	face, err := f.face(float64(box.Dy()) / refHeight * ReferenceTextSize)
	if err != nil {
		return nil, err
	}
	bounds, _ = font.BoundString(face, text)
	inkWidth := (bounds.Max.X - bounds.Min.X).Ceil()
	textHeight := (bounds.Max.Y - bounds.Min.Y).Ceil()
	if inkWidth <= 0 || textHeight <= 0 {
		return nil, apperrors.Newf(apperrors.CodeMalformedResult, "no ink for %q", text)
	}
	baseline := bounds.Max.Y.Ceil() + (box.Dy()-textHeight)/2

	run := image.NewAlpha(image.Rect(0, 0, inkWidth, box.Dy()))
	d := font.Drawer{
		Dst:  run,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{X: -bounds.Min.X, Y: fixed.I(box.Dy() - baseline)},
	}
	d.DrawString(text)

	if inkWidth == box.Dx() {
		return run, nil
	}
	scaled := image.NewAlpha(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), run, run.Bounds(), draw.Src, nil)
	return scaled, nil
}

func toFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

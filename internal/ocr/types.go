// Package ocr defines the recognition engine contract and the results it produces.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

// PageSegMode selects how the engine segments the image into text.
type PageSegMode int

const (
	PSMAuto PageSegMode = iota
	PSMSingleBlock
	PSMSingleChar
	PSMSingleColumn
	PSMSingleLine
	PSMSingleWord
)

var pageSegModeNames = [...]string{"Auto", "Single block", "Single char", "Single column", "Single line", "Single word"}

func (m PageSegMode) String() string {
	if m < 0 || int(m) >= len(pageSegModeNames) {
		return fmt.Sprintf("PageSegMode(%d)", int(m))
	}
	return pageSegModeNames[m]
}

// ParsePageSegMode accepts the display names case-insensitively, with or without spaces.
func ParsePageSegMode(s string) (PageSegMode, error) {
	key := normalize(s)
	for i, name := range pageSegModeNames {
		if normalize(name) == key {
			return PageSegMode(i), nil
		}
	}
	return PSMAuto, apperrors.Newf(apperrors.CodeInvalidConfig, "unknown page segmentation mode %q", s)
}

// AccuracyMode trades recognition accuracy against speed.
type AccuracyMode int

const (
	MostAccurate AccuracyMode = iota
	Fastest
)

func (m AccuracyMode) String() string {
	if m == Fastest {
		return "Fastest"
	}
	return "Most accurate"
}

// ParseAccuracyMode accepts "Fastest" or "Most accurate".
func ParseAccuracyMode(s string) (AccuracyMode, error) {
	switch normalize(s) {
	case "fastest":
		return Fastest, nil
	case "mostaccurate":
		return MostAccurate, nil
	}
	return MostAccurate, apperrors.Newf(apperrors.CodeInvalidConfig, "unknown accuracy mode %q", s)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), ""))
}

// Params are applied to the engine before recognition.
type Params struct {
	PageSegMode PageSegMode
	Accuracy    AccuracyMode
	Blacklist   string
	Whitelist   string
}

// Engine is the opaque recognizer. An Engine is exclusively borrowed by one
// task at a time; implementations need not be safe for concurrent use.
type Engine interface {
	// SetParams configures subsequent recognitions.
	SetParams(p Params) error
	// Recognize decodes one encoded image (PNG/JPEG). It may block.
	Recognize(ctx context.Context, img []byte) (*Result, error)
	// Clear drops per-image state, keeping params.
	Clear()
	// Reset returns the engine to a clean, reusable state after a fault.
	Reset() error
}

// Result is an immutable recognition result. Boxes are in the pixel space of
// the image that was recognized.
type Result struct {
	Text            string
	WordConfidences []int
	MeanConfidence  int
	CharacterBoxes  []image.Rectangle
	WordBoxes       []image.Rectangle
	Elapsed         time.Duration
	Timestamp       time.Time
}

// Validate reports a MalformedResult when word boxes and confidences disagree.
func (r *Result) Validate() error {
	if len(r.WordBoxes) != len(r.WordConfidences) {
		return apperrors.Newf(apperrors.CodeMalformedResult,
			"%d word boxes for %d word confidences", len(r.WordBoxes), len(r.WordConfidences)).
			WithMetadata("boxes", fmt.Sprint(len(r.WordBoxes))).
			WithMetadata("confidences", fmt.Sprint(len(r.WordConfidences)))
	}
	return nil
}

// Words splits the text on whitespace, in box order.
func (r *Result) Words() []string {
	return strings.Fields(r.Text)
}

// ElapsedMS returns the recognition time in milliseconds.
func (r *Result) ElapsedMS() uint64 {
	return uint64(r.Elapsed.Milliseconds())
}

func (r *Result) String() string {
	return fmt.Sprintf("%s %d %d %d", r.Text, r.MeanConfidence, r.ElapsedMS(), r.Timestamp.UnixMilli())
}

// Mirror reverses the character order of a word.
func Mirror(word string) string {
	runes := []rune(word)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return strings.TrimSpace(string(runes))
}

// Outcome is the single terminal report of one recognition task.
// Result is set on success; Err is set on failure. Elapsed is kept on both.
type Outcome struct {
	Result  *Result
	Err     error
	Elapsed time.Duration
}

// Succeeded is true when the outcome carries a result.
func (o Outcome) Succeeded() bool { return o.Result != nil && o.Err == nil }

// Success builds a success outcome.
func Success(r *Result) Outcome {
	return Outcome{Result: r, Elapsed: r.Elapsed}
}

// Failure builds a failure outcome.
func Failure(err error, elapsed time.Duration) Outcome {
	return Outcome{Err: err, Elapsed: elapsed}
}

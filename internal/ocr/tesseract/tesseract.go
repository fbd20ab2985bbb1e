// Package tesseract implements ocr.Engine on top of the gosseract client.
package tesseract

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/ocr"
)

// invertVariable toggles the second inverted-image pass, which roughly doubles
// recognition time on low-contrast frames.
const invertVariable gosseract.SettableVariable = "tessedit_do_invert"

// Options configure client construction.
type Options struct {
	Languages      []string
	TessdataPrefix string
}

// Engine is a single gosseract client. Not safe for concurrent use.
type Engine struct {
	opts          Options
	params        ocr.Params
	client        *gosseract.Client
	clientFactory func() *gosseract.Client
}

// New constructs and starts an engine.
func New(opts Options) (*Engine, error) {
	e := NewEngine(opts)
	if err := e.Start(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEngine returns an engine with no client yet. It is not usable until
// Start succeeds.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts, clientFactory: gosseract.NewClient}
}

// Start builds the client and applies the current params.
func (e *Engine) Start() error {
	return e.Reset()
}

// Started reports whether a client is in place.
func (e *Engine) Started() bool { return e.client != nil }

// SetParams applies page segmentation, speed and character filters.
func (e *Engine) SetParams(p ocr.Params) error {
	if e.client == nil {
		e.params = p
		return nil
	}
	if err := e.client.SetPageSegMode(pageSegMode(p.PageSegMode)); err != nil {
		return apperrors.Wrap(err, apperrors.CodeEngineFault, "set page segmentation mode")
	}
	if err := e.client.SetVariable(invertVariable, invertValue(p.Accuracy)); err != nil {
		return apperrors.Wrap(err, apperrors.CodeEngineFault, "set accuracy mode")
	}
	if err := e.client.SetBlacklist(p.Blacklist); err != nil {
		return apperrors.Wrap(err, apperrors.CodeEngineFault, "set blacklist")
	}
	if err := e.client.SetWhitelist(p.Whitelist); err != nil {
		return apperrors.Wrap(err, apperrors.CodeEngineFault, "set whitelist")
	}
	e.params = p
	return nil
}

// Recognize runs OCR on an encoded image and collects word and symbol boxes.
func (e *Engine) Recognize(ctx context.Context, img []byte) (*ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.client == nil {
		return nil, apperrors.New(apperrors.CodeResourceUnavailable, "engine not started")
	}
	start := time.Now()
	if err := e.client.SetImageFromBytes(img); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEngineFault, "set image")
	}
	text, err := e.client.Text()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEngineFault, "recognize text")
	}
	words, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEngineFault, "word boxes")
	}
	symbols, err := e.client.GetBoundingBoxes(gosseract.RIL_SYMBOL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEngineFault, "symbol boxes")
	}

	res := &ocr.Result{Text: strings.TrimSpace(text), Timestamp: time.Now()}
	var sum float64
	for _, w := range words {
		if strings.TrimSpace(w.Word) == "" {
			continue
		}
		res.WordBoxes = append(res.WordBoxes, w.Box)
		res.WordConfidences = append(res.WordConfidences, clampConfidence(w.Confidence))
		sum += w.Confidence
	}
	for _, s := range symbols {
		res.CharacterBoxes = append(res.CharacterBoxes, s.Box)
	}
	if n := len(res.WordConfidences); n > 0 {
		res.MeanConfidence = clampConfidence(sum / float64(n))
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// Clear is a no-op: the next SetImageFromBytes replaces the image.
func (e *Engine) Clear() {}

// Reset discards the client and builds a fresh one with the last params.
func (e *Engine) Reset() error {
	if e.client != nil {
		_ = e.client.Close()
	}
	c := e.clientFactory()
	if e.opts.TessdataPrefix != "" {
		c.TessdataPrefix = e.opts.TessdataPrefix
	}
	if len(e.opts.Languages) > 0 {
		if err := c.SetLanguage(e.opts.Languages...); err != nil {
			_ = c.Close()
			return apperrors.Wrap(err, apperrors.CodeResourceUnavailable, "set languages")
		}
	}
	e.client = c
	return e.SetParams(e.params)
}

// Close releases the client.
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// Version reports the linked tesseract version.
func Version() string {
	return gosseract.Version()
}

func pageSegMode(m ocr.PageSegMode) gosseract.PageSegMode {
	switch m {
	case ocr.PSMSingleBlock:
		return gosseract.PSM_SINGLE_BLOCK
	case ocr.PSMSingleChar:
		return gosseract.PSM_SINGLE_CHAR
	case ocr.PSMSingleColumn:
		return gosseract.PSM_SINGLE_COLUMN
	case ocr.PSMSingleLine:
		return gosseract.PSM_SINGLE_LINE
	case ocr.PSMSingleWord:
		return gosseract.PSM_SINGLE_WORD
	default:
		return gosseract.PSM_AUTO
	}
}

func invertValue(m ocr.AccuracyMode) string {
	if m == ocr.Fastest {
		return "0"
	}
	return "1"
}

func clampConfidence(c float64) int {
	return int(math.Max(0, math.Min(100, math.Round(c))))
}

func (e *Engine) String() string {
	return fmt.Sprintf("tesseract(%s, %s)", strings.Join(e.opts.Languages, "+"), e.params.PageSegMode)
}

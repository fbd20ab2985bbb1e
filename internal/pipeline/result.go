package pipeline

import (
	"github.com/GriffinCanCode/reverser/internal/ocr"
	"github.com/GriffinCanCode/reverser/internal/syncx"
)

// ResultModel holds the text currently worth showing, or nil. The controller
// is its only writer; results are replaced whole so readers never observe
// boxes and confidences from different recognitions.
type ResultModel struct {
	snap *syncx.Snapshot[*ocr.Result]
}

// NewResultModel returns an empty model.
func NewResultModel() *ResultModel {
	return &ResultModel{snap: syncx.NewSnapshot[*ocr.Result](nil)}
}

// Current returns the displayed result, or nil.
func (m *ResultModel) Current() *ocr.Result {
	return m.snap.Load()
}

// CurrentVersion returns the displayed result with its store count, letting
// renderers skip redraws when nothing changed.
func (m *ResultModel) CurrentVersion() (*ocr.Result, uint64) {
	return m.snap.LoadVersion()
}

func (m *ResultModel) replace(r *ocr.Result) {
	m.snap.Store(r)
}

// clear reports whether a result was displayed.
func (m *ResultModel) clear() bool {
	if m.snap.Load() == nil {
		return false
	}
	return m.snap.Swap(nil) != nil
}

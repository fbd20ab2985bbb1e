package server

import (
	"image"
	"time"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/ocr"
	"github.com/GriffinCanCode/reverser/internal/pipeline"
)

// Message is the envelope every websocket message shares.
type Message struct {
	Type string `json:"type"`
}

// Point is a display-pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Command is a host instruction received over the websocket.
type Command struct {
	Type       string `json:"type"`
	Continuous bool   `json:"continuous,omitempty"`
	DW         int    `json:"dw,omitempty"`
	DH         int    `json:"dh,omitempty"`
	From       *Point `json:"from,omitempty"`
	To         *Point `json:"to,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

// Box is a rectangle in capture pixels.
type Box struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

func toBox(r image.Rectangle) Box {
	return Box{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

// ResultView is the wire form of a recognition result.
type ResultView struct {
	Text            string    `json:"text"`
	Mirrored        []string  `json:"mirrored"`
	WordConfidences []int     `json:"word_confidences"`
	MeanConfidence  int       `json:"mean_confidence"`
	WordBoxes       []Box     `json:"word_boxes"`
	ElapsedMS       uint64    `json:"elapsed_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

func newResultView(res *ocr.Result) *ResultView {
	if res == nil {
		return nil
	}
	words := res.Words()
	v := &ResultView{
		Text:            res.Text,
		Mirrored:        make([]string, len(words)),
		WordConfidences: res.WordConfidences,
		MeanConfidence:  res.MeanConfidence,
		WordBoxes:       make([]Box, len(res.WordBoxes)),
		ElapsedMS:       res.ElapsedMS(),
		Timestamp:       res.Timestamp,
	}
	for i, w := range words {
		v.Mirrored[i] = ocr.Mirror(w)
	}
	for i, b := range res.WordBoxes {
		v.WordBoxes[i] = toBox(b)
	}
	return v
}

// EventMessage carries one pipeline event to websocket clients.
type EventMessage struct {
	Type      string         `json:"type"`
	State     pipeline.State `json:"state"`
	Mode      pipeline.Mode  `json:"mode"`
	Result    *ResultView    `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms,omitempty"`
	At        time.Time      `json:"at"`
}

func newEventMessage(e pipeline.Event) EventMessage {
	msg := EventMessage{
		Type:   string(e.Type),
		State:  e.State,
		Mode:   e.Mode,
		Result: newResultView(e.Result),
		At:     e.At,
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
		msg.Code = string(apperrors.CodeOf(e.Err))
	}
	if e.Elapsed > 0 {
		msg.ElapsedMS = e.Elapsed.Milliseconds()
	}
	return msg
}

// ErrorMessage reports a rejected command or request.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// TerminateMessage tells the host to close the recognition surface.
type TerminateMessage struct {
	Type string `json:"type"`
}

// ViewfinderMessage reports the framing rectangle after a resize command.
type ViewfinderMessage struct {
	Type    string `json:"type"`
	Applied bool   `json:"applied"`
	Frame   Box    `json:"frame"`
}

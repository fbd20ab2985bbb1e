package pipeline

import (
	"fmt"
	"image"
	"time"

	"github.com/GriffinCanCode/reverser/internal/resilience"
)

// Phase is the coarse pipeline state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingEngineReady
	PhaseRecognizing
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingEngineReady:
		return "awaiting_engine_ready"
	case PhaseRecognizing:
		return "recognizing"
	case PhasePaused:
		return "paused"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the observable pipeline state. Generation is set only while
// Recognizing and names the outstanding request. Engine is the position of
// the engine breaker; while it is open every admitted frame fails fast.
type State struct {
	Phase      Phase            `json:"phase"`
	Generation uint64           `json:"generation,omitempty"`
	Engine     resilience.State `json:"engine"`
}

func (s State) String() string {
	if s.Phase == PhaseRecognizing {
		return fmt.Sprintf("recognizing(%d)", s.Generation)
	}
	return s.Phase.String()
}

// MarshalText renders the phase name for JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Mode selects whether the pipeline re-arms itself after every completion.
type Mode int

const (
	Continuous Mode = iota
	SingleShot
)

func (m Mode) String() string {
	if m == SingleShot {
		return "single_shot"
	}
	return "continuous"
}

// MarshalText renders the mode name for JSON payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Frame is one delivery from the frame source. Image is an encoded PNG/JPEG
// already cropped to Capture, the viewfinder rectangle in preview pixels.
// On admission the pipeline takes ownership of Image; callers must not reuse it.
type Frame struct {
	Image      []byte
	Capture    image.Rectangle
	CapturedAt time.Time
}

// Request is an admitted frame. The task owns Image for its whole lifetime.
type Request struct {
	Image      []byte
	Capture    image.Rectangle
	Generation uint64
	Mode       Mode
}

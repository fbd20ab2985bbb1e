// Package resilience guards the recognition engine and retries start-up work.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

// State is the breaker position.
type State uint32

const (
	Closed   State = iota // engine trusted
	Open                  // recognitions fail fast
	HalfOpen              // next recognition decides
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// MarshalText renders the state name for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrOpen is returned by Allow while the engine is cooling down.
var ErrOpen = apperrors.New(apperrors.CodeResourceUnavailable, "engine breaker open")

// Trips reports whether a recognition error counts against the engine.
// Blank frames, confidence rejections and cancellations do not.
func Trips(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeEngineFault)
}

// Status is a snapshot of the breaker for state endpoints.
type Status struct {
	State          State     `json:"state"`
	Faults         int       `json:"faults"`
	LastGeneration uint64    `json:"last_fault_generation,omitempty"`
	LastFault      time.Time `json:"last_fault,omitzero"`
	RetryAt        time.Time `json:"retry_at,omitzero"` // set while open
}

// Breaker counts consecutive engine faults. After Threshold of them it opens
// and Allow refuses work until ResetTimeout has passed; then one probe runs
// half-open and HalfOpenSuccesses clean recognitions close it again.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	faults    int
	probes    int
	lastGen   uint64
	lastFault time.Time
	hook      func(from, to State)
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// WithHook sets a callback run after every transition, outside the lock.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.mu.Lock()
	b.hook = fn
	b.mu.Unlock()
	return b
}

// Allow returns nil when a recognition may use the engine.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	if b.state != Open {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(b.lastFault) < b.cfg.ResetTimeout {
		b.mu.Unlock()
		return ErrOpen
	}
	from, hook := b.transitionLocked(HalfOpen, b.lastGen)
	b.mu.Unlock()
	notify(hook, from, HalfOpen)
	return nil
}

// Record folds the outcome of recognition generation into the breaker.
// Cancelled recognitions say nothing about the engine and are ignored.
func (b *Breaker) Record(generation uint64, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	b.mu.Lock()
	to := b.state
	if Trips(err) {
		b.faults++
		b.lastGen = generation
		b.lastFault = b.now()
		if b.state == HalfOpen || b.faults >= b.cfg.Threshold {
			to = Open
		}
	} else {
		switch b.state {
		case HalfOpen:
			b.probes++
			if b.probes >= b.cfg.HalfOpenSuccesses {
				to = Closed
			}
		case Closed:
			b.faults = 0
		}
	}
	var (
		from State
		hook func(from, to State)
	)
	if to != b.state {
		from, hook = b.transitionLocked(to, generation)
	}
	b.mu.Unlock()
	notify(hook, from, to)
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	if b.state == Closed {
		b.faults = 0
		b.mu.Unlock()
		return
	}
	from, hook := b.transitionLocked(Closed, b.lastGen)
	b.mu.Unlock()
	notify(hook, from, Closed)
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for reporting.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Status{State: b.state, Faults: b.faults, LastGeneration: b.lastGen, LastFault: b.lastFault}
	if b.state == Open {
		s.RetryAt = b.lastFault.Add(b.cfg.ResetTimeout)
	}
	return s
}

// transitionLocked moves to to on behalf of recognition generation and
// returns the hook to run once b.mu is released.
func (b *Breaker) transitionLocked(to State, generation uint64) (State, func(from, to State)) {
	from := b.state
	b.state = to
	b.probes = 0

	log := slog.With("breaker", b.cfg.Name, "generation", generation)
	switch to {
	case Closed:
		b.faults = 0
		log.Info("engine breaker closed")
	case Open:
		log.Warn("engine breaker opened", "faults", b.faults, "cooldown", b.cfg.ResetTimeout)
	case HalfOpen:
		log.Info("engine breaker half-open")
	}
	return from, b.hook
}

func notify(hook func(from, to State), from, to State) {
	if hook != nil {
		hook(from, to)
	}
}

// Package pipeline admits camera frames to at most one background recognition
// at a time and folds completions into the displayed result.
//
// Every admitted frame gets a generation number. A completion is applied only
// if it carries the generation of the outstanding task and that task was not
// suppressed by a pause or mode change; anything else is discarded without
// touching the result model or re-arming admission.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/ocr"
	"github.com/GriffinCanCode/reverser/internal/resilience"
)

// Options configure a Controller.
type Options struct {
	Params            ocr.Params
	MinMeanConfidence int // 0 disables the gate
	Mode              Mode
	Breaker           *resilience.Breaker // defaults to resilience.EngineConfig()
	SessionID         string              // defaults to a random uuid
}

// Controller is the pipeline state machine.
type Controller struct {
	engine    ocr.Engine
	breaker   *resilience.Breaker
	results   *ResultModel
	broker    *Broker
	metrics   *Metrics
	sessionID string
	minConf   int

	ctx         context.Context
	cancel      context.CancelFunc
	completions chan completion
	tasks       sync.WaitGroup

	mu          sync.Mutex
	phase       Phase
	generation  uint64
	inflight    *task
	mode        Mode
	shotArmed   bool
	params      ocr.Params
	paramsDirty bool
	activated   bool
	stopped     bool
	engineReady bool
	sourceReady bool
}

// New creates a controller around engine. The controller starts Idle and
// inactive; call Activate and report readiness before frames are admitted.
func New(engine ocr.Engine, opts Options) *Controller {
	if opts.Breaker == nil {
		opts.Breaker = resilience.New(resilience.EngineConfig())
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:      engine,
		breaker:     opts.Breaker,
		results:     NewResultModel(),
		broker:      NewBroker(),
		metrics:     &Metrics{},
		sessionID:   opts.SessionID,
		minConf:     opts.MinMeanConfidence,
		ctx:         ctx,
		cancel:      cancel,
		completions: make(chan completion, CompletionBuffer),
		mode:        opts.Mode,
		params:      opts.Params,
		paramsDirty: true,
	}
	c.breaker.WithHook(c.engineHealthChanged)
	return c
}

// Run applies completions until ctx is done, then cancels outstanding work
// and closes all subscriptions. It returns only after the outstanding task
// has left the engine, so the caller may close the engine afterwards.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctx.Done():
			return nil
		case cmp := <-c.completions:
			c.complete(cmp)
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.tasks.Wait()
	c.broker.Close()
}

// Activate marks the host as started. Until both the engine and the frame
// source are ready the pipeline waits in AwaitingEngineReady.
func (c *Controller) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activated {
		return
	}
	c.activated = true
	c.refreshReadinessLocked()
}

// SetEngineReady reports engine availability.
func (c *Controller) SetEngineReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engineReady = ready
	c.refreshReadinessLocked()
}

// SetSourceReady reports frame source availability.
func (c *Controller) SetSourceReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceReady = ready
	c.refreshReadinessLocked()
}

func (c *Controller) readyLocked() bool {
	return c.engineReady && c.sourceReady
}

func (c *Controller) refreshReadinessLocked() {
	if !c.activated {
		return
	}
	switch {
	case c.phase == PhaseAwaitingEngineReady && c.readyLocked():
		c.setPhaseLocked(PhaseIdle)
	case c.phase == PhaseIdle && !c.readyLocked():
		c.setPhaseLocked(PhaseAwaitingEngineReady)
	}
}

// OnFrame offers a frame for recognition. It never blocks: the frame is
// admitted only when the pipeline is Idle with no outstanding task (and, in
// single-shot mode, a shot was requested). Dropped frames are not queued.
func (c *Controller) OnFrame(f Frame) bool {
	c.metrics.framesOffered.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.admittingLocked() {
		c.metrics.framesDropped.Add(1)
		return false
	}

	c.generation++
	t := &task{req: Request{
		Image:      f.Image,
		Capture:    f.Capture,
		Generation: c.generation,
		Mode:       c.mode,
	}}
	if c.paramsDirty {
		p := c.params
		t.params = &p
		c.paramsDirty = false
	}
	c.inflight = t
	c.shotArmed = false
	c.metrics.framesAdmitted.Add(1)
	c.setPhaseLocked(PhaseRecognizing)

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		t.run(c.ctx, c.engine, c.breaker, c.completions)
	}()
	return true
}

// Admitting reports whether OnFrame would currently admit a frame.
func (c *Controller) Admitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admittingLocked()
}

func (c *Controller) admittingLocked() bool {
	if !c.activated || c.stopped || c.phase != PhaseIdle || c.inflight != nil {
		return false
	}
	return c.mode == Continuous || c.shotArmed
}

// complete folds one task completion into the model. It runs on the Run loop.
func (c *Controller) complete(cmp completion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.completions.Add(1)

	t := c.inflight
	if t == nil || t.req.Generation != cmp.generation {
		c.metrics.stale.Add(1)
		slog.Debug("discarding stale completion", "generation", cmp.generation, "current", c.generation)
		return
	}
	c.inflight = nil
	if cmp.paramsPending {
		c.paramsDirty = true
	}
	c.metrics.observeLatency(cmp.outcome.Elapsed)

	if t.suppressed {
		c.metrics.suppressed.Add(1)
		slog.Debug("discarding suppressed completion", "generation", cmp.generation)
		if c.phase == PhaseRecognizing {
			c.settleLocked()
		}
		return
	}

	out := cmp.outcome
	switch {
	case out.Succeeded() && c.minConf > 0 && out.Result.MeanConfidence < c.minConf:
		c.metrics.rejected.Add(1)
		slog.Debug("result below confidence threshold",
			"generation", cmp.generation, "mean_confidence", out.Result.MeanConfidence, "threshold", c.minConf)
		if t.req.Mode == SingleShot {
			c.clearResultLocked()
			c.shotFailedLocked(apperrors.ErrRejectedByConfidence, out.Elapsed)
		}
	case out.Succeeded():
		c.metrics.accepted.Add(1)
		c.results.replace(out.Result)
		c.broker.Publish(Event{Type: EventResultChanged, Result: out.Result, State: c.stateLocked(), Mode: c.mode})
	default:
		c.metrics.failures.Add(1)
		c.clearResultLocked()
		if t.req.Mode == SingleShot {
			c.shotFailedLocked(out.Err, out.Elapsed)
		}
	}
	c.settleLocked()
}

// settleLocked leaves Recognizing once no task is outstanding.
func (c *Controller) settleLocked() {
	if c.activated && !c.readyLocked() {
		c.setPhaseLocked(PhaseAwaitingEngineReady)
		return
	}
	c.setPhaseLocked(PhaseIdle)
}

// Pause suppresses the outstanding task, clears the overlay and stops
// admission. The task still runs to completion to release the engine.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhasePaused {
		return
	}
	if c.inflight != nil {
		c.inflight.suppressed = true
	}
	c.shotArmed = false
	c.clearResultLocked()
	c.setPhaseLocked(PhasePaused)
}

// Resume leaves Paused. Engine params are re-applied by the next admitted
// task. If the suppressed task is still running the pipeline reports
// Recognizing until it drains, so the same frame is never recognized twice.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeLocked()
}

func (c *Controller) resumeLocked() {
	if c.phase != PhasePaused {
		return
	}
	c.paramsDirty = true
	if c.inflight != nil {
		c.setPhaseLocked(PhaseRecognizing)
		return
	}
	c.settleLocked()
}

// Dismiss handles a back/cancel signal. While paused it resumes; with a
// result displayed it clears the result and keeps accepting frames. It
// reports true only when nothing is displayed and the host should terminate.
func (c *Controller) Dismiss() (terminate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.phase == PhasePaused:
		c.resumeLocked()
		return false
	case c.clearResultLocked():
		return false
	default:
		return true
	}
}

// SetMode switches between continuous and single-shot recognition. A
// change clears the overlay and suppresses any outstanding task.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == m {
		return
	}
	c.mode = m
	c.shotArmed = false
	if c.inflight != nil {
		c.inflight.suppressed = true
	}
	c.clearResultLocked()
	c.broker.Publish(Event{Type: EventStateChanged, State: c.stateLocked(), Mode: m})
}

// RequestShot arms exactly one admission in single-shot mode.
func (c *Controller) RequestShot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.mode != SingleShot:
		return apperrors.New(apperrors.CodeInvalidArgument, "shot requests need single-shot mode")
	case c.phase == PhasePaused, c.phase == PhaseAwaitingEngineReady, !c.activated:
		return apperrors.ErrNotReady
	}
	c.shotArmed = true
	return nil
}

// SetParams replaces engine params; the next admitted task applies them.
func (c *Controller) SetParams(p ocr.Params) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
	c.paramsDirty = true
}

// ClearResult drops the displayed result, e.g. after the viewfinder moved
// and its boxes no longer line up.
func (c *Controller) ClearResult() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearResultLocked()
}

// ReportTerminal tells subscribers the pipeline cannot continue.
func (c *Controller) ReportTerminal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broker.Publish(Event{Type: EventTerminal, Err: err, State: c.stateLocked(), Mode: c.mode})
}

func (c *Controller) clearResultLocked() bool {
	if !c.results.clear() {
		return false
	}
	c.broker.Publish(Event{Type: EventResultChanged, State: c.stateLocked(), Mode: c.mode})
	return true
}

func (c *Controller) shotFailedLocked(err error, elapsed time.Duration) {
	c.broker.Publish(Event{Type: EventShotFailed, Err: err, Elapsed: elapsed, State: c.stateLocked(), Mode: c.mode})
}

func (c *Controller) setPhaseLocked(p Phase) {
	before := c.stateLocked()
	c.phase = p
	if after := c.stateLocked(); after != before {
		slog.Debug("pipeline state changed", "from", before.String(), "to", after.String())
		c.broker.Publish(Event{Type: EventStateChanged, State: after, Mode: c.mode})
	}
}

func (c *Controller) stateLocked() State {
	s := State{Phase: c.phase, Engine: c.breaker.State()}
	if c.phase == PhaseRecognizing && c.inflight != nil {
		s.Generation = c.inflight.req.Generation
	}
	return s
}

// State returns the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Generation returns the generation of the last admitted request.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Result returns the displayed result, or nil.
func (c *Controller) Result() *ocr.Result { return c.results.Current() }

// Results exposes the model for renderers.
func (c *Controller) Results() *ResultModel { return c.results }

// Metrics returns a counter snapshot.
func (c *Controller) Metrics() MetricsSnapshot { return c.metrics.Snapshot() }

// SessionID identifies this pipeline instance.
func (c *Controller) SessionID() string { return c.sessionID }

// EngineStatus reports the engine breaker.
func (c *Controller) EngineStatus() resilience.Status { return c.breaker.Status() }

// engineHealthChanged publishes breaker transitions as state changes. The
// breaker calls it with its own lock released.
func (c *Controller) engineHealthChanged(from, to resilience.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.broker.Publish(Event{Type: EventStateChanged, State: c.stateLocked(), Mode: c.mode})
}

// Subscribe registers for events. cancel releases the subscription.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.broker.Subscribe(buffer)
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/ocr"
	"github.com/GriffinCanCode/reverser/internal/resilience"
	"github.com/GriffinCanCode/reverser/internal/trace"
)

// completion is the single terminal report of a task.
type completion struct {
	generation uint64
	outcome    ocr.Outcome
	// paramsPending is set when the engine may not hold the configured
	// params any more: they were never applied, or the engine was reset.
	paramsPending bool
}

// task runs one recognition off the caller's goroutine. While it runs it
// exclusively owns the engine.
type task struct {
	req    Request
	params *ocr.Params // applied before recognizing when set

	suppressed bool // guarded by Controller.mu
}

func (t *task) run(ctx context.Context, engine ocr.Engine, breaker *resilience.Breaker, out chan<- completion) {
	ctx, span := trace.StartSpan(ctx, "recognize")
	span.SetAttr("generation", t.req.Generation)
	span.SetAttr("mode", t.req.Mode.String())

	cmp := completion{generation: t.req.Generation, paramsPending: t.params != nil}
	cmp.outcome = t.execute(ctx, engine, breaker, &cmp)

	span.SetAttr("elapsed_ms", cmp.outcome.Elapsed.Milliseconds())
	span.End()
	log := trace.Logger(ctx)
	if cmp.outcome.Succeeded() {
		log.Debug("recognition complete", "span", span, "mean_confidence", cmp.outcome.Result.MeanConfidence)
	} else {
		log.Debug("recognition failed", "span", span, "error", cmp.outcome.Err)
	}

	select {
	case out <- cmp:
	case <-ctx.Done():
	}
}

func (t *task) execute(ctx context.Context, engine ocr.Engine, breaker *resilience.Breaker, cmp *completion) ocr.Outcome {
	if err := ctx.Err(); err != nil {
		return ocr.Failure(err, 0)
	}
	if err := breaker.Allow(); err != nil {
		return ocr.Failure(err, 0)
	}

	start := time.Now()
	res, err := t.invoke(ctx, engine, cmp)
	elapsed := time.Since(start)
	defer engine.Clear()

	breaker.Record(t.req.Generation, err)
	if err != nil {
		if resilience.Trips(err) {
			trace.Logger(ctx).Warn("engine fault, resetting", "generation", t.req.Generation, "error", err)
			if rerr := engine.Reset(); rerr != nil {
				trace.Logger(ctx).Warn("engine reset failed", "error", rerr)
			}
			cmp.paramsPending = true
		}
		return ocr.Failure(err, elapsed)
	}

	if res.Elapsed == 0 {
		res.Elapsed = elapsed
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return ocr.Success(res)
}

// invoke calls into the engine, turning panics into EngineFault.
func (t *task) invoke(ctx context.Context, engine ocr.Engine, cmp *completion) (res *ocr.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, apperrors.Newf(apperrors.CodeEngineFault, "engine panic: %v", r)
		}
	}()

	if t.params != nil {
		if err := engine.SetParams(*t.params); err != nil {
			return nil, asFault(err, "apply params")
		}
		cmp.paramsPending = false
	}

	res, err = engine.Recognize(ctx, t.req.Image)
	if err != nil {
		return nil, asFault(err, "recognize")
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return nil, apperrors.ErrNoText
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// asFault classifies an untyped engine error as EngineFault. Cancellation and
// already-classified errors pass through.
func asFault(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	return apperrors.Wrap(err, apperrors.CodeEngineFault, msg)
}

package pipeline

import (
	"context"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/reverser/internal/ocr"
)

type reply func() (*ocr.Result, error)

// fakeEngine replays queued replies. When gated, Recognize blocks until the
// test sends on release; with stubborn set it also ignores cancellation, the
// way a cgo call does.
type fakeEngine struct {
	release  chan struct{}
	stubborn bool

	mu      sync.Mutex
	replies []reply
	params  []ocr.Params

	started atomic.Int32
	clears  atomic.Int32
	resets  atomic.Int32
	busy    atomic.Bool
}

func newFakeEngine(gated bool) *fakeEngine {
	f := &fakeEngine{}
	if gated {
		f.release = make(chan struct{})
	}
	return f
}

func (f *fakeEngine) push(r ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r...)
}

func (f *fakeEngine) SetParams(p ocr.Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	return nil
}

func (f *fakeEngine) paramCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.params)
}

func (f *fakeEngine) Recognize(ctx context.Context, img []byte) (*ocr.Result, error) {
	f.started.Add(1)
	f.busy.Store(true)
	defer f.busy.Store(false)
	switch {
	case f.release != nil && f.stubborn:
		<-f.release
	case f.release != nil:
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	var next reply
	if len(f.replies) > 0 {
		next, f.replies = f.replies[0], f.replies[1:]
	}
	f.mu.Unlock()
	if next == nil {
		return textResult("hello", 90), nil
	}
	return next()
}

func (f *fakeEngine) Clear()       { f.clears.Add(1) }
func (f *fakeEngine) Reset() error { f.resets.Add(1); return nil }

func succeed(text string, mean int) reply {
	return func() (*ocr.Result, error) { return textResult(text, mean), nil }
}

func fail(err error) reply {
	return func() (*ocr.Result, error) { return nil, err }
}

func explode() reply {
	return func() (*ocr.Result, error) { panic("tesseract segfault") }
}

// textResult builds a well-formed result with one box per word.
func textResult(text string, mean int) *ocr.Result {
	words := strings.Fields(text)
	r := &ocr.Result{Text: text, MeanConfidence: mean}
	for i := range words {
		r.WordConfidences = append(r.WordConfidences, mean)
		r.WordBoxes = append(r.WordBoxes, image.Rect(i*40, 0, i*40+30, 20))
	}
	return r
}

func frame() Frame {
	return Frame{Image: []byte{0x89, 'P', 'N', 'G'}, Capture: image.Rect(0, 0, 100, 40), CapturedAt: time.Now()}
}

// startController runs a ready, active controller until the test ends.
func startController(t *testing.T, eng ocr.Engine, opts Options) *Controller {
	t.Helper()
	c := New(eng, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	c.Activate()
	c.SetEngineReady(true)
	c.SetSourceReady(true)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitPhase(t *testing.T, c *Controller, p Phase) {
	t.Helper()
	waitFor(t, p.String(), func() bool { return c.State().Phase == p })
}

// nextEvent returns the next event of type typ, skipping others.
func nextEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", typ)
			}
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

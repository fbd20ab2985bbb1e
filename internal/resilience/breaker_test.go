package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
)

var (
	errFault = apperrors.New(apperrors.CodeEngineFault, "tesseract aborted")
	errBlank = apperrors.ErrNoText
)

// newTestBreaker returns an engine breaker on a manual clock.
func newTestBreaker(threshold, probes int) (*Breaker, *time.Time) {
	clock := time.Unix(1_700_000_000, 0)
	b := New(Config{Name: "engine", Threshold: threshold, ResetTimeout: time.Second, HalfOpenSuccesses: probes})
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestTrips(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"engine fault", errFault, true},
		{"wrapped fault", apperrors.Wrap(errors.New("segv"), apperrors.CodeEngineFault, "recognize"), true},
		{"no text", errBlank, false},
		{"rejected", apperrors.ErrRejectedByConfidence, false},
		{"malformed", apperrors.New(apperrors.CodeMalformedResult, "boxes"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Trips(tt.err); got != tt.want {
				t.Errorf("Trips(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOnlyEngineFaultsOpen(t *testing.T) {
	b, _ := newTestBreaker(2, 1)

	for gen := uint64(1); gen <= 5; gen++ {
		b.Record(gen, errBlank)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v after blank frames, want closed", b.State())
	}

	b.Record(6, errFault)
	b.Record(7, errFault)
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestCleanRecognitionResetsFaults(t *testing.T) {
	b, _ := newTestBreaker(3, 1)

	b.Record(1, errFault)
	b.Record(2, errFault)
	b.Record(3, nil)
	b.Record(4, errFault)
	b.Record(5, errFault)

	if st := b.Status(); st.State != Closed || st.Faults != 2 {
		t.Errorf("status = %+v, want closed with 2 faults", st)
	}
}

func TestCooldownThenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 1)
	b.Record(9, errFault)

	*clock = clock.Add(500 * time.Millisecond)
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("Allow() during cooldown = %v, want ErrOpen", err)
	}

	*clock = clock.Add(time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}

	b.Record(10, nil)
	if b.State() != Closed {
		t.Errorf("state = %v after clean probe, want closed", b.State())
	}
}

func TestFailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(3, 2)
	for gen := uint64(1); gen <= 3; gen++ {
		b.Record(gen, errFault)
	}
	*clock = clock.Add(2 * time.Second)
	_ = b.Allow()

	b.Record(4, nil)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v after one of two probes, want half_open", b.State())
	}
	b.Record(5, errFault)
	if b.State() != Open {
		t.Errorf("state = %v, want open", b.State())
	}
	if st := b.Status(); st.LastGeneration != 5 {
		t.Errorf("last fault generation = %d, want 5", st.LastGeneration)
	}
}

func TestCancelledProbeIgnored(t *testing.T) {
	b, clock := newTestBreaker(1, 1)
	b.Record(1, errFault)
	*clock = clock.Add(2 * time.Second)
	_ = b.Allow()

	b.Record(2, context.Canceled)
	if b.State() != HalfOpen {
		t.Errorf("state = %v after cancelled probe, want half_open", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() = %v, want the next probe admitted", err)
	}
}

func TestStatus(t *testing.T) {
	b, clock := newTestBreaker(1, 1)
	if st := b.Status(); st != (Status{State: Closed}) {
		t.Errorf("initial status = %+v", st)
	}

	b.Record(7, errFault)
	st := b.Status()
	if st.State != Open || st.Faults != 1 || st.LastGeneration != 7 {
		t.Errorf("status = %+v", st)
	}
	if !st.LastFault.Equal(*clock) || !st.RetryAt.Equal(clock.Add(time.Second)) {
		t.Errorf("last fault = %v, retry at = %v", st.LastFault, st.RetryAt)
	}

	b.Reset()
	if st := b.Status(); st.State != Closed || st.Faults != 0 || !st.RetryAt.IsZero() {
		t.Errorf("status after reset = %+v", st)
	}
}

func TestHookSeesTransitions(t *testing.T) {
	b, clock := newTestBreaker(1, 1)
	var got []string
	b.WithHook(func(from, to State) {
		// The hook runs unlocked, so reading back is safe.
		if b.State() != to {
			t.Errorf("State() = %v inside hook, want %v", b.State(), to)
		}
		got = append(got, from.String()+">"+to.String())
	})

	b.Record(1, errFault)
	b.Record(2, errBlank) // no transition while open
	*clock = clock.Add(2 * time.Second)
	_ = b.Allow()
	b.Record(3, nil)

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half_open"},
		{State(7), "state(7)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := EngineConfig()
	if cfg.Name != "engine" {
		t.Errorf("Name = %q, want engine", cfg.Name)
	}
	if cfg.Threshold != EngineThreshold || cfg.HalfOpenSuccesses != EngineHalfOpenSuccesses {
		t.Errorf("EngineConfig() = %+v", cfg)
	}

	if d := (Config{}).withDefaults(); d.Threshold != EngineThreshold || d.ResetTimeout != EngineResetTimeout {
		t.Errorf("withDefaults() = %+v", d)
	}
}

func TestErrOpenIsResourceUnavailable(t *testing.T) {
	if !apperrors.IsCode(ErrOpen, apperrors.CodeResourceUnavailable) {
		t.Errorf("ErrOpen code = %v, want %v", apperrors.CodeOf(ErrOpen), apperrors.CodeResourceUnavailable)
	}
	if !apperrors.IsRetryable(ErrOpen) {
		t.Error("ErrOpen should be retryable")
	}
}

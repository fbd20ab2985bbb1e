package pipeline

import (
	"testing"
)

func TestBrokerFansOut(t *testing.T) {
	b := NewBroker()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(Event{Type: EventStateChanged, State: State{Phase: PhasePaused}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != EventStateChanged || e.State.Phase != PhasePaused {
			t.Errorf("event = %+v", e)
		}
		if e.At.IsZero() {
			t.Error("publish should stamp the event")
		}
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	_, cancel := b.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: EventResultChanged})
	}
	if got := b.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestBrokerCancelAndClose(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("cancelled subscription should be closed")
	}

	other, _ := b.Subscribe(1)
	b.Close()
	if _, ok := <-other; ok {
		t.Error("Close should close remaining subscriptions")
	}

	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribing after Close should yield a closed channel")
	}
	b.Publish(Event{Type: EventTerminal}) // must not panic
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{State{Phase: PhaseIdle}, "idle"},
		{State{Phase: PhaseAwaitingEngineReady}, "awaiting_engine_ready"},
		{State{Phase: PhaseRecognizing, Generation: 4}, "recognizing(4)"},
		{State{Phase: PhasePaused}, "paused"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/reverser/internal/ocr"
)

// EventType names a host notification.
type EventType string

const (
	EventResultChanged EventType = "result_changed"
	EventStateChanged  EventType = "state_changed"
	EventShotFailed    EventType = "shot_failed"
	EventTerminal      EventType = "terminal"
)

// Event is delivered to every subscriber in publish order.
type Event struct {
	Type    EventType
	State   State
	Mode    Mode
	Result  *ocr.Result // result_changed; nil when the overlay was cleared
	Err     error       // shot_failed, terminal
	Elapsed time.Duration
	At      time.Time
}

// Broker fans events out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses events rather than stalling admission.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a buffered channel. The returned cancel func closes it.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to all subscribers.
func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events lost to full subscriber buffers.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

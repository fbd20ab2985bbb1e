// Package publish batches accepted recognition results out to a Sink.
package publish

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/reverser/internal/history"
	"github.com/GriffinCanCode/reverser/internal/trace"
)

// Item is one published result.
type Item struct {
	Session string `json:"session"`
	history.Entry
}

// Sink receives flushed batches.
type Sink interface {
	Publish(ctx context.Context, items []Item) error
}

// Batcher accumulates items and flushes them in batches.
type Batcher struct {
	sink       Sink
	maxSize    int
	flushDelay time.Duration
	mu         sync.Mutex
	items      []Item
	timer      *time.Timer
	stopped    bool
	wg         sync.WaitGroup
}

// NewBatcher creates a batcher writing to sink.
func NewBatcher(sink Sink, maxSize int, flushDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatcherMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultBatcherFlushDelay
	}
	return &Batcher{
		sink:       sink,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		items:      make([]Item, 0, maxSize),
	}
}

// Add queues an item. Items added after Stop are dropped.
func (b *Batcher) Add(item Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.items = append(b.items, item)

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.Flush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

func (b *Batcher) flushLocked() {
	if len(b.items) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = make([]Item, 0, b.maxSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, span := trace.StartSpan(context.Background(), "publish_batch_flush")
		defer span.End()
		span.SetAttr("count", len(items))

		log := trace.Logger(ctx)
		if err := b.sink.Publish(ctx, items); err != nil {
			span.SetAttr("error", err.Error())
			log.Warn("batch publish failed", "error", err, "count", len(items))
			return
		}
		log.Debug("batch published", "count", len(items))
	}()
}

// Flush forces immediate flush of pending items.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop flushes remaining items and waits for in-flight publishes.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.flushLocked()
	b.mu.Unlock()
	b.wg.Wait()
}

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/history"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]Item
	err     error
}

func (s *fakeSink) Publish(_ context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, items)
	return s.err
}

func (s *fakeSink) snapshot() [][]Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Item(nil), s.batches...)
}

func item(text string) Item {
	return Item{Session: "s1", Entry: history.Entry{Text: text}}
}

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, 2, time.Hour)
	b.Add(item("a"))
	b.Add(item("b"))
	b.Add(item("c"))
	b.Stop()

	got := sink.snapshot()
	if len(got) != 2 {
		t.Fatalf("batches = %d, want 2", len(got))
	}
	if len(got[0]) != 2 || got[0][0].Text != "a" || got[0][1].Text != "b" {
		t.Errorf("first batch = %+v", got[0])
	}
	if len(got[1]) != 1 || got[1][0].Text != "c" {
		t.Errorf("second batch = %+v", got[1])
	}
}

func TestBatcherFlushesAfterDelay(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, 10, 10*time.Millisecond)
	defer b.Stop()
	b.Add(item("a"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("delayed flush did not happen")
}

func TestBatcherDropsAfterStop(t *testing.T) {
	sink := &fakeSink{}
	b := NewBatcher(sink, 10, time.Hour)
	b.Stop()
	b.Add(item("late"))
	b.Flush()

	if n := len(sink.snapshot()); n != 0 {
		t.Errorf("batches = %d, want 0", n)
	}
}

func TestBatcherSinkErrorDoesNotBlock(t *testing.T) {
	sink := &fakeSink{err: errors.New("down")}
	b := NewBatcher(sink, 1, time.Hour)
	b.Add(item("a"))
	b.Add(item("b"))
	b.Stop()

	if n := len(sink.snapshot()); n != 2 {
		t.Errorf("batches = %d, want 2", n)
	}
}

func TestBatcherDefaults(t *testing.T) {
	b := NewBatcher(&fakeSink{}, 0, 0)
	if b.maxSize != DefaultBatcherMaxSize || b.flushDelay != DefaultBatcherFlushDelay {
		t.Errorf("defaults = %d %v", b.maxSize, b.flushDelay)
	}
}

func TestEncode(t *testing.T) {
	out, err := encode([]Item{item("stop")})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(out[0].(string)), &m); err != nil {
		t.Fatal(err)
	}
	if m["session"] != "s1" || m["text"] != "stop" {
		t.Errorf("payload = %v", m)
	}
}

func TestNewRedisSinkInvalidURL(t *testing.T) {
	_, err := NewRedisSink(context.Background(), "not-a-url", "", 0)
	if !apperrors.IsCode(err, apperrors.CodeInvalidConfig) {
		t.Errorf("err = %v, want CONFIG_INVALID", err)
	}
}

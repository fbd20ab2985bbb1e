// Package history keeps the most recently accepted recognition results.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/reverser/internal/ocr"
)

// Entry is one accepted result. Repeats counts consecutive acceptances of the
// same text folded into this entry.
type Entry struct {
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
	Mirrored       []string  `json:"mirrored"`
	MeanConfidence int       `json:"mean_confidence"`
	ElapsedMS      uint64    `json:"elapsed_ms"`
	Repeats        int       `json:"repeats"`
}

// Store is a bounded in-memory history.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// NewStore keeps at most maxEntries entries.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{entries: make([]Entry, 0, maxEntries), maxSize: maxEntries}
}

// Add records res. A result repeating the previous entry's text only bumps its
// repeat count and timestamp. Reports whether a new entry was created.
func (s *Store) Add(res *ocr.Result) bool {
	if res == nil {
		return false
	}
	text := strings.TrimSpace(res.Text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.entries); n > 0 && s.entries[n-1].Text == text {
		last := &s.entries[n-1]
		last.Repeats++
		last.Timestamp = stamp(res)
		last.MeanConfidence = max(last.MeanConfidence, res.MeanConfidence)
		return false
	}

	s.entries = append(s.entries, NewEntry(res))
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	return true
}

// NewEntry converts a result.
func NewEntry(res *ocr.Result) Entry {
	words := res.Words()
	mirrored := make([]string, len(words))
	for i, w := range words {
		mirrored[i] = ocr.Mirror(w)
	}
	return Entry{
		Timestamp:      stamp(res),
		Text:           strings.TrimSpace(res.Text),
		Mirrored:       mirrored,
		MeanConfidence: res.MeanConfidence,
		ElapsedMS:      res.ElapsedMS(),
	}
}

func stamp(res *ocr.Result) time.Time {
	if res.Timestamp.IsZero() {
		return time.Now()
	}
	return res.Timestamp
}

// Recent returns up to n newest entries, oldest first. n <= 0 returns all.
func (s *Store) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]Entry, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out
}

// Since returns entries newer than d ago, oldest first.
func (s *Store) Since(d time.Duration) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-d)
	var out []Entry
	for _, e := range s.entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

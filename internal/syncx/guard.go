// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Snapshot holds an immutable value that is replaced whole, never edited in place.
// Readers always observe a value that was stored by a single Store/Swap.
type Snapshot[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
}

// NewSnapshot creates a snapshot holding initial.
func NewSnapshot[T any](initial T) *Snapshot[T] {
	return &Snapshot[T]{value: initial}
}

// Load returns the current value.
func (s *Snapshot[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// LoadVersion returns the current value and the number of stores that produced it.
func (s *Snapshot[T]) LoadVersion() (T, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.version
}

// Store atomically replaces the value.
func (s *Snapshot[T]) Store(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.version++
}

// Swap atomically replaces and returns old value.
func (s *Snapshot[T]) Swap(v T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.value
	s.value = v
	s.version++
	return old
}

// CompareAndStore replaces the value only if version has not moved since it was read.
func (s *Snapshot[T]) CompareAndStore(version uint64, v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		return false
	}
	s.value = v
	s.version++
	return true
}

package persistence

import (
	"context"
	"sync"

	"github.com/alexgrimes/featmem/pattern"
)

// MemorySink keeps written patterns in a map. It is the default sink
// and the one tests assert against.
type MemorySink struct {
	mu       sync.Mutex
	patterns map[string]*pattern.Pattern
	writes   int
	closed   bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{patterns: make(map[string]*pattern.Pattern)}
}

// WriteBatch stores each pattern by ID, overwriting earlier writes.
func (s *MemorySink) WriteBatch(_ context.Context, patterns []*pattern.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.patterns[p.ID] = p.Clone()
	}
	s.writes++
	return nil
}

// Close marks the sink closed. Writes after Close still succeed; the
// engine may flush a final batch during teardown.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Get returns the most recently written pattern with the given ID.
func (s *MemorySink) Get(id string) (*pattern.Pattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Len returns the number of distinct patterns written.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns)
}

// Writes returns how many batches have been written.
func (s *MemorySink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Package memstore provides an in-memory implementation of ratelimit.Store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/aitriage/internal/ratelimit"
)

// sweepEvery bounds how many consumes pass between expired-record sweeps.
const sweepEvery = 1024

// Store holds window records in memory. State is lost on restart and not
// shared between processes.
type Store struct {
	mu      sync.Mutex
	records map[string]ratelimit.Record // identity -> window
	ops     int
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{records: make(map[string]ratelimit.Record)}
}

// Consume implements ratelimit.Store.
func (s *Store) Consume(_ context.Context, identity string, now time.Time, capacity int, window time.Duration) (ratelimit.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops++
	if s.ops%sweepEvery == 0 {
		s.sweep(now, window)
	}

	rec := s.records[identity]
	if ratelimit.Expired(rec.WindowStart, now, window) {
		rec = ratelimit.Record{WindowStart: now}
	}
	if rec.Count >= capacity {
		s.records[identity] = rec
		return rec, false, nil
	}
	rec.Count++
	s.records[identity] = rec
	return rec, true, nil
}

// Peek implements ratelimit.Store.
func (s *Store) Peek(_ context.Context, identity string) (ratelimit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[identity], nil
}

// Reset implements ratelimit.Store.
func (s *Store) Reset(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identity)
	return nil
}

// Len returns the number of identities with a stored window.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) sweep(now time.Time, window time.Duration) {
	for id, rec := range s.records {
		if ratelimit.Expired(rec.WindowStart, now, window) {
			delete(s.records, id)
		}
	}
}

package triage

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// seenSweepEvery bounds how many accepted alerts pass between sweeps of the
// dedupe table.
const seenSweepEvery = 512

type groupKey struct {
	service string
	env     string
}

// Store holds incidents in process memory. Incidents are never deleted.
// Reads return copies; writes replace the stored incident with a copy so a
// reader never observes a half-applied attachment.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*Incident // incident ID -> incident
	open      map[groupKey]string  // (service, env) -> most recent incident ID
	seen      map[string]time.Time // alert fingerprint -> last accepted at
	marks     int
}

// NewStore initializes an empty Store.
func NewStore() *Store {
	return &Store{
		incidents: make(map[string]*Incident),
		open:      make(map[groupKey]string),
		seen:      make(map[string]time.Time),
	}
}

// Get retrieves an incident by ID. Returns a copy.
func (s *Store) Get(id string) (*Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false
	}
	return inc.Clone(), true
}

// List returns copies of up to limit incidents, most recently updated
// first. A non-positive limit returns all.
func (s *Store) List(limit int) []*Incident {
	s.mu.RLock()
	out := make([]*Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Incident) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, inc := range out {
		out[i] = inc.Clone()
	}
	return out
}

// Len returns the number of incidents held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}

// latest returns a copy of the most recent incident for key, if any.
func (s *Store) latest(key groupKey) (*Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.open[key]
	if !ok {
		return nil, false
	}
	return s.incidents[id].Clone(), true
}

// put publishes inc. When index is set the (service, env) index is pointed
// at it.
func (s *Store) put(inc *Incident, index bool) {
	cp := inc.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[cp.ID] = cp
	if index {
		s.open[groupKey{service: cp.Service, env: cp.Env}] = cp.ID
	}
}

// seenWithin reports whether fp was accepted within the window ending at now.
func (s *Store) seenWithin(fp string, now time.Time, window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.seen[fp]
	return ok && now.Sub(at) <= window
}

// markSeen records fp as accepted at now. Entries older than window are
// swept every seenSweepEvery marks.
func (s *Store) markSeen(fp string, now time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[fp] = now
	s.marks++
	if s.marks%seenSweepEvery != 0 {
		return
	}
	for k, at := range s.seen {
		if now.Sub(at) > window {
			delete(s.seen, k)
		}
	}
}

// seenLen returns the size of the dedupe table.
func (s *Store) seenLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

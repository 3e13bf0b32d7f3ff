package reportcache

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how many writes pass between expired-entry sweeps.
const sweepEvery = 256

type memItem struct {
	value   []byte
	group   string
	expires time.Time
}

// Memory is an in-process Provider. Expired entries are dropped on read,
// when their group is invalidated, and by a sweep every sweepEvery writes.
type Memory struct {
	mu     sync.Mutex
	items  map[string]memItem
	groups map[string]map[string]struct{} // incident ID -> keys
	writes int
	now    func() time.Time
}

// NewMemory returns an empty Memory provider.
func NewMemory() *Memory {
	return &Memory{
		items:  make(map[string]memItem),
		groups: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// Get implements Provider.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.expires.After(m.now()) {
		m.drop(key, it.group)
		return nil, false, nil
	}
	return it.value, true, nil
}

// Set implements Provider.
func (m *Memory) Set(_ context.Context, group, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.writes++
	if m.writes%sweepEvery == 0 {
		m.sweep(now)
	}

	if old, ok := m.items[key]; ok && old.group != group {
		m.drop(key, old.group)
	}
	m.items[key] = memItem{value: value, group: group, expires: now.Add(ttl)}
	g, ok := m.groups[group]
	if !ok {
		g = make(map[string]struct{})
		m.groups[group] = g
	}
	g[key] = struct{}{}
	return nil
}

// InvalidateGroup implements Provider.
func (m *Memory) InvalidateGroup(_ context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.groups[group] {
		delete(m.items, key)
	}
	delete(m.groups, group)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Groups returns the number of groups holding at least one entry.
func (m *Memory) Groups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

// Close implements Provider.
func (m *Memory) Close() error { return nil }

// drop removes key and prunes its group once empty. Callers hold mu.
func (m *Memory) drop(key, group string) {
	delete(m.items, key)
	if g, ok := m.groups[group]; ok {
		delete(g, key)
		if len(g) == 0 {
			delete(m.groups, group)
		}
	}
}

func (m *Memory) sweep(now time.Time) {
	for key, it := range m.items {
		if !it.expires.After(now) {
			m.drop(key, it.group)
		}
	}
}

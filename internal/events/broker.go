// Package events broadcasts incident change notifications to observers.
// Delivery is best effort: a subscriber that falls behind misses events.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event kind.
type Type string

const (
	TypeAlertIngested   Type = "alert_ingested"
	TypeIncidentUpdated Type = "incident_updated"
)

// Event is one change notification.
type Event struct {
	Type       Type      `json:"type"`
	IncidentID string    `json:"incidentId"`
	At         time.Time `json:"at"`
	Data       any       `json:"data,omitempty"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Broker fans events out to subscribers.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
	onDrop  func()
}

// NewBroker returns a Broker with the given per-subscriber buffer. A
// non-positive buffer uses DefaultBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// OnDrop registers a callback invoked each time an event is dropped for a
// slow subscriber. It must be set before Publish is called concurrently.
func (b *Broker) OnDrop(fn func()) { b.onDrop = fn }

// Subscription receives events until closed.
type Subscription struct {
	ch     chan Event
	broker *Broker
	once   sync.Once
}

// C returns the channel events arrive on. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		close(s.ch)
		s.broker.mu.Unlock()
	})
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan Event, b.buffer), broker: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

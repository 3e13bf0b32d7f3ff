package events

import (
	"sync"
	"testing"
	"time"
)

func TestBroker_DeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(4)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	b.Publish(Event{Type: TypeIncidentUpdated, IncidentID: "inc-1"})

	for i, s := range []*Subscription{s1, s2} {
		select {
		case ev := <-s.C():
			if ev.IncidentID != "inc-1" || ev.Type != TypeIncidentUpdated {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
			if ev.At.IsZero() {
				t.Errorf("subscriber %d: At not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestBroker_DropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(1)
	var drops int
	b.OnDrop(func() { drops++ })

	s := b.Subscribe()
	defer s.Close()

	b.Publish(Event{Type: TypeAlertIngested, IncidentID: "a"})
	b.Publish(Event{Type: TypeAlertIngested, IncidentID: "b"})
	b.Publish(Event{Type: TypeAlertIngested, IncidentID: "c"})

	if got := b.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if drops != 2 {
		t.Errorf("OnDrop called %d times, want 2", drops)
	}
	ev := <-s.C()
	if ev.IncidentID != "a" {
		t.Errorf("first event = %q, want a", ev.IncidentID)
	}
}

func TestBroker_PublishWithoutSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(0)
	b.Publish(Event{Type: TypeIncidentUpdated})
	if b.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", b.Dropped())
	}
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBroker(1)
	s := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", b.Subscribers())
	}
	s.Close()
	s.Close()
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after close, want 0", b.Subscribers())
	}
	if _, ok := <-s.C(); ok {
		t.Error("expected closed channel")
	}
	b.Publish(Event{Type: TypeIncidentUpdated})
}

func TestBroker_ConcurrentPublishAndClose(t *testing.T) {
	t.Parallel()

	b := NewBroker(2)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		s := b.Subscribe()
		go func() {
			defer wg.Done()
			for range 50 {
				b.Publish(Event{Type: TypeAlertIngested})
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
}

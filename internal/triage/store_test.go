package triage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/aitriage/internal/alert"
)

func testIncident(id string, updated time.Time) *Incident {
	return &Incident{
		ID:        id,
		Service:   "checkout",
		Env:       "prod",
		Status:    StatusWatch,
		CreatedAt: updated,
		UpdatedAt: updated,
		Signals: map[alert.SignalType]*SignalSnapshot{
			alert.SignalLatency: {SignalType: alert.SignalLatency, History: []float64{1, 2}},
		},
		Impact: ImpactAssessment{Reasons: []string{"r"}},
	}
}

func TestStore_PutAndGet(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.put(testIncident("inc-1", time.Now()), true)

	got, ok := s.Get("inc-1")
	if !ok {
		t.Fatal("expected incident to be found")
	}
	if got.ID != "inc-1" || got.Service != "checkout" {
		t.Errorf("got %s %s", got.ID, got.Service)
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if _, ok := s.Get("nonexistent"); ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewStore()
	inc := testIncident("inc-1", time.Now())
	s.put(inc, true)

	// mutating the caller's value after put does not leak in
	inc.Status = StatusResolved
	inc.Signals[alert.SignalLatency].History[0] = 99

	got, _ := s.Get("inc-1")
	if got.Status != StatusWatch {
		t.Errorf("Status = %q, want watch", got.Status)
	}
	if got.Signals[alert.SignalLatency].History[0] != 1 {
		t.Error("history shared with caller")
	}

	// mutating a read copy does not leak in
	got.Impact.Reasons[0] = "changed"
	again, _ := s.Get("inc-1")
	if again.Impact.Reasons[0] != "r" {
		t.Error("reasons shared with reader")
	}
}

func TestStore_ListOrdering(t *testing.T) {
	t.Parallel()

	s := NewStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.put(testIncident("a", base), false)
	s.put(testIncident("b", base.Add(2*time.Minute)), false)
	s.put(testIncident("c", base.Add(time.Minute)), false)
	s.put(testIncident("d", base.Add(2*time.Minute)), false)

	got := s.List(0)
	want := []string{"d", "b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("List len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	if limited := s.List(2); len(limited) != 2 || limited[0].ID != "d" {
		t.Errorf("List(2) = %v", limited)
	}
}

func TestStore_LatestIndex(t *testing.T) {
	t.Parallel()

	s := NewStore()
	key := groupKey{service: "checkout", env: "prod"}

	if _, ok := s.latest(key); ok {
		t.Fatal("expected no latest incident")
	}

	s.put(testIncident("inc-1", time.Now()), true)
	s.put(testIncident("inc-2", time.Now()), true)
	s.put(testIncident("inc-1", time.Now()), false)

	got, ok := s.latest(key)
	if !ok || got.ID != "inc-2" {
		t.Errorf("latest = %v, want inc-2", got)
	}
}

func TestStore_SeenWindow(t *testing.T) {
	t.Parallel()

	s := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 2 * time.Minute

	s.markSeen("fp-1", now, window)
	if !s.seenWithin("fp-1", now.Add(window), window) {
		t.Error("expected fp-1 seen at window edge")
	}
	if s.seenWithin("fp-1", now.Add(window+time.Second), window) {
		t.Error("expected fp-1 expired after window")
	}
	if s.seenWithin("fp-2", now, window) {
		t.Error("unexpected fp-2")
	}

}

func TestStore_SeenSweep(t *testing.T) {
	t.Parallel()

	s := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 2 * time.Minute

	for i := range seenSweepEvery - 1 {
		s.markSeen(fmt.Sprintf("old-%d", i), now, window)
	}
	if got := s.seenLen(); got != seenSweepEvery-1 {
		t.Fatalf("seen = %d, want %d before the sweep", got, seenSweepEvery-1)
	}

	s.markSeen("fresh", now.Add(10*time.Minute), window)
	if got := s.seenLen(); got != 1 {
		t.Errorf("seen = %d, want 1 after the sweep", got)
	}
	if !s.seenWithin("fresh", now.Add(10*time.Minute), window) {
		t.Error("fresh fingerprint lost in sweep")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("inc-%d", i)
			s.put(testIncident(id, time.Now()), true)
			s.Get(id)
			s.List(10)
		}()
	}

	wg.Wait()

	if s.Len() != 100 {
		t.Errorf("Len() = %d, want 100", s.Len())
	}
}

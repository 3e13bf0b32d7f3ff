package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/aitriage/internal/postgres"
	"github.com/linnemanlabs/aitriage/internal/ratelimit/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("AITRIAGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AITRIAGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: dsn, MaxConns: 8})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func identity(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestConsumeAndPeek(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := identity(t)
	now := time.Now().Truncate(time.Microsecond).UTC()

	for i := 1; i <= 3; i++ {
		rec, ok, err := s.Consume(ctx, id, now, 3, time.Hour)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if !ok || rec.Count != i {
			t.Fatalf("consume %d: ok=%v count=%d", i, ok, rec.Count)
		}
	}

	if _, ok, err := s.Consume(ctx, id, now, 3, time.Hour); err != nil || ok {
		t.Fatalf("fourth consume: ok=%v err=%v, want denied", ok, err)
	}

	rec, err := s.Peek(ctx, id)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if rec.Count != 3 || !rec.WindowStart.Equal(now) {
		t.Errorf("Peek = %+v, want count 3 starting %v", rec, now)
	}
}

func TestWindowRollover(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := identity(t)
	now := time.Now().Truncate(time.Microsecond).UTC()

	if _, _, err := s.Consume(ctx, id, now, 1, time.Minute); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	rec, ok, err := s.Consume(ctx, id, now.Add(time.Minute), 1, time.Minute)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !ok || rec.Count != 1 || !rec.WindowStart.Equal(now.Add(time.Minute)) {
		t.Errorf("got ok=%v rec=%+v, want fresh window", ok, rec)
	}
}

func TestResetIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := identity(t)

	if _, _, err := s.Consume(ctx, id, time.Now(), 1, time.Hour); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	for range 2 {
		if err := s.Reset(ctx, id); err != nil {
			t.Fatalf("Reset: %v", err)
		}
	}
	rec, err := s.Peek(ctx, id)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !rec.WindowStart.IsZero() {
		t.Errorf("Peek after reset = %+v, want zero", rec)
	}
}

func TestConcurrentConsume(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := identity(t)
	now := time.Now()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Consume(ctx, id, now, 3, time.Hour)
			if err != nil {
				t.Errorf("Consume: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 3 {
		t.Errorf("allowed = %d, want 3", allowed.Load())
	}
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := identity(t)
	old := time.Now().Add(-2 * time.Hour)

	if _, _, err := s.Consume(ctx, id, old, 3, time.Hour); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	n, err := s.Prune(ctx, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n < 1 {
		t.Errorf("pruned %d rows, want at least 1", n)
	}
}

package redisstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/linnemanlabs/aitriage/internal/reportcache/redisstore"
)

func openStore(t *testing.T) *redisstore.Store {
	t.Helper()
	url := os.Getenv("AITRIAGE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AITRIAGE_TEST_REDIS_URL not set, skipping integration test")
	}
	s, err := redisstore.New(context.Background(), url)
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck // test cleanup
	return s
}

func TestSetGetInvalidate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	group := fmt.Sprintf("inc-%d", time.Now().UnixNano())

	keys := []string{"report:" + group + ":a", "report:" + group + ":b"}
	for _, k := range keys {
		if err := s.Set(ctx, group, k, []byte("body-"+k), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	got, ok, err := s.Get(ctx, keys[0])
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "body-"+keys[0] {
		t.Errorf("Get = %q", got)
	}

	if err := s.InvalidateGroup(ctx, group); err != nil {
		t.Fatalf("InvalidateGroup: %v", err)
	}
	for _, k := range keys {
		if _, ok, err := s.Get(ctx, k); err != nil || ok {
			t.Errorf("Get(%s) after invalidate: ok=%v err=%v", k, ok, err)
		}
	}

	// invalidating an empty group is a no-op
	if err := s.InvalidateGroup(ctx, group); err != nil {
		t.Errorf("second InvalidateGroup: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	if _, ok, err := s.Get(context.Background(), "report:missing:key"); err != nil || ok {
		t.Errorf("Get missing: ok=%v err=%v", ok, err)
	}
}

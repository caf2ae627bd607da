package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/kv/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if RINGER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("RINGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RINGER_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on an empty table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS ringer_kv`); err != nil {
		t.Fatalf("drop: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_GetSetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get missing: %v", err)
	}
	if err := s.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "a", "2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if v, err := s.Get(ctx, "a"); err != nil || v != "2" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	_ = s.Set(ctx, "b", "x")
	if err := s.Delete(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get deleted: %v", err)
	}
}

func TestStore_CompareAndDeleteSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "call_trigger_time", "100")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CompareAndDelete(ctx, "call_trigger_time", "100")
			if err != nil {
				t.Errorf("CompareAndDelete: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("expected one winner, got %d", got)
	}
}

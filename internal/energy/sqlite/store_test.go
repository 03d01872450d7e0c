package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberworks/duskspire/internal/energy"
	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "energy.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestCreateAndGetPool(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pool := energy.Pool{OwnerID: "char-1", Current: 100, Capacity: 100, RegenMultiplier: 1, UpdatedAt: created}
	if err := store.CreatePool(ctx, pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	got, err := store.GetPool(ctx, "char-1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got.Current != 100 || got.Capacity != 100 || !got.UpdatedAt.Equal(created) {
		t.Fatalf("unexpected pool: %+v", got)
	}
}

func TestGetPoolNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetPool(context.Background(), "ghost")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestCreatePoolRejectsDuplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	pool := energy.Pool{OwnerID: "char-1", Current: 50, Capacity: 100, RegenMultiplier: 1, UpdatedAt: time.Now().UTC()}

	if err := store.CreatePool(ctx, pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	err := store.CreatePool(ctx, pool)
	if !apperrors.IsCode(err, apperrors.CodeAlreadyExists) {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}
}

func TestCompareAndSwapPool(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := created.Add(time.Minute)

	pool := energy.Pool{OwnerID: "char-1", Current: 100, Capacity: 100, RegenMultiplier: 1, UpdatedAt: created}
	if err := store.CreatePool(ctx, pool); err != nil {
		t.Fatalf("create pool: %v", err)
	}

	swapped, err := store.CompareAndSwapPool(ctx, "char-1", 100, created, 70, later)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !swapped {
		t.Fatal("expected swap to apply")
	}

	// Stale expectations must be rejected without mutating the record.
	swapped, err = store.CompareAndSwapPool(ctx, "char-1", 100, created, 40, later.Add(time.Minute))
	if err != nil {
		t.Fatalf("stale cas: %v", err)
	}
	if swapped {
		t.Fatal("expected stale swap to be rejected")
	}

	got, err := store.GetPool(ctx, "char-1")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got.Current != 70 || !got.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected pool after cas: %+v", got)
	}
}

func TestCompareAndSwapPoolMissingOwner(t *testing.T) {
	store := openTestStore(t)

	swapped, err := store.CompareAndSwapPool(context.Background(), "ghost", 10, time.Now().UTC(), 5, time.Now().UTC())
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if swapped {
		t.Fatal("expected no swap for missing owner")
	}
}

func TestLedgerAgainstSQLiteStore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ledger := energy.NewLedger(store,
		energy.WithClock(func() time.Time { return now }),
		energy.WithRetryBase(time.Millisecond),
	)

	if _, err := ledger.CreatePool(ctx, "char-1", 100, 1); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	remaining, err := ledger.Spend(ctx, "char-1", 40)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if remaining != 60 {
		t.Fatalf("expected remaining 60, got %d", remaining)
	}
}

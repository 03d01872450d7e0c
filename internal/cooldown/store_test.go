package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

func testStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, New(client)
}

func TestSetThenRemaining(t *testing.T) {
	_, store := testStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "actor-1", "fireball", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	remaining, err := store.Remaining(ctx, "actor-1", "fireball")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Fatalf("expected remaining in (0, 1m], got %v", remaining)
	}
}

func TestRemainingAvailableWhenUnset(t *testing.T) {
	_, store := testStore(t)

	remaining, err := store.Remaining(context.Background(), "actor-1", "fireball")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 for unset cooldown, got %v", remaining)
	}
}

func TestCooldownExpiresAutomatically(t *testing.T) {
	srv, store := testStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "actor-1", "fireball", 30*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	srv.FastForward(29 * time.Second)
	remaining, _ := store.Remaining(ctx, "actor-1", "fireball")
	if remaining == 0 {
		t.Fatal("expected cooldown still active before expiry")
	}

	srv.FastForward(2 * time.Second)
	remaining, _ = store.Remaining(ctx, "actor-1", "fireball")
	if remaining != 0 {
		t.Fatalf("expected cooldown expired with no explicit clear, got %v", remaining)
	}
}

func TestSetRejectsNonPositiveDuration(t *testing.T) {
	_, store := testStore(t)

	err := store.Set(context.Background(), "actor-1", "fireball", 0)
	if !apperrors.IsCode(err, apperrors.CodeCooldownInvalidDuration) {
		t.Fatalf("expected COOLDOWN_INVALID_DURATION, got %v", err)
	}
}

func TestSetRejectsActorIDWithDelimiter(t *testing.T) {
	_, store := testStore(t)
	ctx := context.Background()

	// "actor-1:fireball" as an actor id would write into actor-1's
	// namespace and show up in its scans.
	if err := store.Set(ctx, "actor-1:fireball", "blink", time.Minute); err == nil {
		t.Fatal("expected error for actor id containing the key delimiter")
	}

	entries, err := store.Active(ctx, "actor-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty namespace, got %+v", entries)
	}
}

func TestActiveListsOnlyActorNamespace(t *testing.T) {
	_, store := testStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "actor-1", "fireball", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "actor-1", "blink", 2*time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "actor-2", "fireball", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	entries, err := store.Active(ctx, "actor-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ResourceKey != "blink" || entries[1].ResourceKey != "fireball" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestClearRemovesActorCooldowns(t *testing.T) {
	_, store := testStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "actor-1", "fireball", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "actor-2", "fireball", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := store.Clear(ctx, "actor-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	entries, _ := store.Active(ctx, "actor-1")
	if len(entries) != 0 {
		t.Fatalf("expected actor-1 cleared, got %+v", entries)
	}
	remaining, _ := store.Remaining(ctx, "actor-2", "fireball")
	if remaining == 0 {
		t.Fatal("expected actor-2 cooldown untouched")
	}
}

func TestChecksFailOpenWhenStoreDown(t *testing.T) {
	srv, store := testStore(t)
	srv.Close()
	ctx := context.Background()

	remaining, err := store.Remaining(ctx, "actor-1", "fireball")
	if err != nil || remaining != 0 {
		t.Fatalf("expected fail-open remaining, got %v err=%v", remaining, err)
	}

	entries, err := store.Active(ctx, "actor-1")
	if err != nil || entries != nil {
		t.Fatalf("expected fail-open empty list, got %+v err=%v", entries, err)
	}

	// Mutations still report the outage so callers can log it.
	if err := store.Set(ctx, "actor-1", "fireball", time.Minute); !apperrors.IsCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected STORE_UNAVAILABLE from set, got %v", err)
	}
}

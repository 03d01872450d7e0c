// Package cooldown tracks per-actor, per-resource action restrictions.
// Entries live in the shared key-value store with native expiry, so they
// survive process restarts, stay consistent across horizontally scaled
// instances, and never need a sweep.
//
// Cooldowns are an anti-abuse throttle, not a security boundary: checks fail
// open when the store is unreachable so players are not locked out of the
// game by an infrastructure blip.
package cooldown

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

const (
	keyPrefix        = "cooldown:"
	defaultScanCount = 64
)

// Entry describes one active cooldown for an actor.
type Entry struct {
	ResourceKey string
	Remaining   time.Duration
}

// Store reads and writes cooldown entries.
type Store struct {
	client    *redis.Client
	scanCount int64
}

// New creates a cooldown store over the shared key-value client.
func New(client *redis.Client) *Store {
	return &Store{client: client, scanCount: defaultScanCount}
}

func entryKey(actorID, resourceKey string) string {
	return keyPrefix + actorID + ":" + resourceKey
}

// Set starts a cooldown for (actor, resource) lasting duration. The entry
// self-destructs through store-native expiry.
func (s *Store) Set(ctx context.Context, actorID, resourceKey string, duration time.Duration) error {
	if strings.TrimSpace(actorID) == "" || strings.TrimSpace(resourceKey) == "" {
		return fmt.Errorf("actor id and resource key are required")
	}
	// Keys join actor and resource with ":"; an actor id carrying the
	// delimiter would alias another actor's namespace in Active/Clear scans.
	if strings.Contains(actorID, ":") {
		return fmt.Errorf("actor id must not contain %q", ":")
	}
	if duration <= 0 {
		return apperrors.WithMetadata(apperrors.CodeCooldownInvalidDuration,
			"cooldown duration must be positive",
			map[string]string{"actor_id": actorID, "resource_key": resourceKey, "duration": duration.String()})
	}

	expiresAt := time.Now().UTC().Add(duration)
	if err := s.client.Set(ctx, entryKey(actorID, resourceKey), expiresAt.UnixMilli(), duration).Err(); err != nil {
		log.Printf("cooldown set failed actor_id=%s resource_key=%s err=%v", actorID, resourceKey, err)
		return apperrors.WrapWithMetadata(apperrors.CodeStoreUnavailable, "set cooldown failed",
			map[string]string{"actor_id": actorID, "resource_key": resourceKey}, err)
	}
	return nil
}

// Remaining reports how long until (actor, resource) becomes available.
// Zero means available. Store faults fail open: the action is permitted and
// a warning is logged.
func (s *Store) Remaining(ctx context.Context, actorID, resourceKey string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, entryKey(actorID, resourceKey)).Result()
	if err != nil {
		log.Printf("cooldown check failed open actor_id=%s resource_key=%s err=%v", actorID, resourceKey, err)
		return 0, nil
	}
	if ttl <= 0 {
		// -2 missing, -1 no expiry; either way the action is available.
		return 0, nil
	}
	return ttl, nil
}

// Active lists the actor's live cooldowns using an incremental, non-blocking
// scan over the actor's namespace. Store faults fail open with an empty
// list.
func (s *Store) Active(ctx context.Context, actorID string) ([]Entry, error) {
	prefix := keyPrefix + actorID + ":"
	var entries []Entry
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", s.scanCount).Result()
		if err != nil {
			log.Printf("cooldown scan failed open actor_id=%s err=%v", actorID, err)
			return nil, nil
		}
		for _, key := range keys {
			ttl, err := s.client.PTTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				continue
			}
			entries = append(entries, Entry{
				ResourceKey: strings.TrimPrefix(key, prefix),
				Remaining:   ttl,
			})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ResourceKey < entries[j].ResourceKey })
	return entries, nil
}

// Clear removes all of an actor's cooldowns (GM/admin escape hatch).
func (s *Store) Clear(ctx context.Context, actorID string) error {
	prefix := keyPrefix + actorID + ":"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", s.scanCount).Result()
		if err != nil {
			return apperrors.WrapWithMetadata(apperrors.CodeStoreUnavailable, "clear cooldowns failed",
				map[string]string{"actor_id": actorID}, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return apperrors.WrapWithMetadata(apperrors.CodeStoreUnavailable, "clear cooldowns failed",
					map[string]string{"actor_id": actorID}, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

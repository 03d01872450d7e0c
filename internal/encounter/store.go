package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

const (
	encounterKeyPrefix = "encounter:"
	killCountKeyPrefix = "boss:kills:"

	defaultScanCount = 64
)

// RedisStore keeps encounter aggregates in the shared key-value store as
// JSON blobs. Consistency comes from the coordinator's lock, not from the
// store, so plain get/set is enough here.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates the encounter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func encounterKey(id string) string      { return encounterKeyPrefix + id }
func killCountKey(bossKey string) string { return killCountKeyPrefix + bossKey }

// Get reads one aggregate. Missing or expired records map to NOT_FOUND.
func (s *RedisStore) Get(ctx context.Context, id string) (Encounter, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Encounter{}, fmt.Errorf("encounter id is required")
	}

	payload, err := s.client.Get(ctx, encounterKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Encounter{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			"encounter not found", map[string]string{"encounter_id": id})
	}
	if err != nil {
		return Encounter{}, fmt.Errorf("read encounter: %w", err)
	}

	var enc Encounter
	if err := json.Unmarshal(payload, &enc); err != nil {
		return Encounter{}, fmt.Errorf("decode encounter: %w", err)
	}
	return enc, nil
}

// Put writes the aggregate without expiry; active encounters live until
// archived.
func (s *RedisStore) Put(ctx context.Context, enc Encounter) error {
	if strings.TrimSpace(enc.ID) == "" {
		return fmt.Errorf("encounter id is required")
	}
	payload, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	if err := s.client.Set(ctx, encounterKey(enc.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("write encounter: %w", err)
	}
	return nil
}

// Archive rewrites a terminal aggregate with a grace-period TTL, after which
// the record self-destructs.
func (s *RedisStore) Archive(ctx context.Context, enc Encounter, grace time.Duration) error {
	if strings.TrimSpace(enc.ID) == "" {
		return fmt.Errorf("encounter id is required")
	}
	if grace <= 0 {
		grace = time.Minute
	}
	payload, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	if err := s.client.Set(ctx, encounterKey(enc.ID), payload, grace).Err(); err != nil {
		return fmt.Errorf("archive encounter: %w", err)
	}
	return nil
}

// ActiveIDs scans the encounter namespace incrementally and returns the ids
// of aggregates still marked active. Terminal records awaiting archival
// expiry are skipped.
func (s *RedisStore) ActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, encounterKeyPrefix+"*", defaultScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan encounters: %w", err)
		}
		for _, key := range keys {
			id := strings.TrimPrefix(key, encounterKeyPrefix)
			enc, err := s.Get(ctx, id)
			if err != nil {
				if apperrors.IsCode(err, apperrors.CodeNotFound) {
					continue
				}
				return nil, err
			}
			if enc.Status == StatusActive {
				ids = append(ids, id)
			}
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// IncrKillCount atomically bumps the per-boss kill counter.
func (s *RedisStore) IncrKillCount(ctx context.Context, bossKey string) (int64, error) {
	bossKey = strings.TrimSpace(bossKey)
	if bossKey == "" {
		return 0, fmt.Errorf("boss key is required")
	}
	kills, err := s.client.Incr(ctx, killCountKey(bossKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment kill count: %w", err)
	}
	return kills, nil
}

var _ Store = (*RedisStore)(nil)

package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const statsKeyPrefix = "market:24h:"

// recordTradeScript folds one trade into the window atomically: high/low are
// conditional sets and volume is an increment, all inside one script so
// concurrent trades cannot interleave partial updates.
var recordTradeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local high = tonumber(redis.call("get", KEYS[1]))
if not high or rate > high then
    redis.call("set", KEYS[1], ARGV[1])
end
local low = tonumber(redis.call("get", KEYS[2]))
if not low or rate < low then
    redis.call("set", KEYS[2], ARGV[1])
end
redis.call("incrby", KEYS[3], ARGV[2])
return 1
`)

// RedisStats maintains the rolling 24h window in the shared key-value store
// so concurrent trades across all server instances aggregate correctly.
type RedisStats struct {
	client *redis.Client
}

// NewRedisStats creates the 24h window store.
func NewRedisStats(client *redis.Client) *RedisStats {
	return &RedisStats{client: client}
}

func statsKeys(resourceType string) (high, low, volume string) {
	return statsKeyPrefix + "high:" + resourceType,
		statsKeyPrefix + "low:" + resourceType,
		statsKeyPrefix + "volume:" + resourceType
}

// RecordTrade updates high/low/volume atomically.
func (s *RedisStats) RecordTrade(ctx context.Context, resourceType string, rate float64, volume int64) error {
	high, low, vol := statsKeys(resourceType)
	err := recordTradeScript.Run(ctx, s.client,
		[]string{high, low, vol},
		strconv.FormatFloat(rate, 'f', -1, 64),
		volume,
	).Err()
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// Window reads the current 24h aggregate. Missing keys mean no trades yet.
func (s *RedisStats) Window(ctx context.Context, resourceType string) (WindowStats, error) {
	high, low, vol := statsKeys(resourceType)
	values, err := s.client.MGet(ctx, high, low, vol).Result()
	if err != nil {
		return WindowStats{}, fmt.Errorf("read window: %w", err)
	}

	var stats WindowStats
	if v, ok := values[0].(string); ok {
		stats.High, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := values[1].(string); ok {
		stats.Low, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := values[2].(string); ok {
		stats.Volume, _ = strconv.ParseInt(v, 10, 64)
	}
	return stats, nil
}

// ResetWindow clears one resource's 24h aggregate at window rollover.
func (s *RedisStats) ResetWindow(ctx context.Context, resourceType string) error {
	high, low, vol := statsKeys(resourceType)
	if err := s.client.Del(ctx, high, low, vol).Err(); err != nil {
		return fmt.Errorf("reset window: %w", err)
	}
	return nil
}

var _ StatsStore = (*RedisStats)(nil)

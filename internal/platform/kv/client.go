// Package kv owns construction of the shared low-latency key-value client
// used for cooldowns, locks, encounter aggregates and market window stats.
package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options configures the key-value client connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Open dials the shared key-value store and verifies connectivity before
// handing the client to callers.
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping key-value store: %w", err)
	}
	return client, nil
}

// Package lock provides a cross-process mutex over the shared key-value
// store. Locks carry a TTL so a crashed holder cannot wedge a key forever,
// and release is scripted to compare the holder token so an expired lock can
// never delete a successor's acquisition.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

const instrumentationName = "github.com/emberworks/duskspire/internal/lock"

const (
	defaultTTL        = 10 * time.Second
	defaultMaxRetries = 5
	defaultRetryBase  = 50 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

// releaseScript deletes the lock only when the stored token still belongs to
// this holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

var errLockHeld = errors.New("lock is held")

// Mutex acquires cluster-wide exclusive locks with bounded retries.
type Mutex struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries uint
	retryBase  time.Duration
	tracer     trace.Tracer
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithTTL sets how long an acquired lock survives a crashed holder.
func WithTTL(ttl time.Duration) Option {
	return func(m *Mutex) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMaxRetries caps acquisition attempts before LOCK_UNAVAILABLE.
func WithMaxRetries(n uint) Option {
	return func(m *Mutex) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithRetryBase sets the initial backoff delay between acquisition attempts.
func WithRetryBase(d time.Duration) Option {
	return func(m *Mutex) {
		if d > 0 {
			m.retryBase = d
		}
	}
}

// New creates a Mutex over the shared key-value client.
func New(client *redis.Client, opts ...Option) *Mutex {
	m := &Mutex{
		client:     client,
		ttl:        defaultTTL,
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithLock runs fn while holding the named lock and releases it on every
// exit path, including panics. Acquisition failures after the retry budget
// surface as LOCK_UNAVAILABLE; store faults fail closed as
// STORE_UNAVAILABLE because callers mutate shared aggregates under this
// lock.
func (m *Mutex) WithLock(ctx context.Context, key string, fn func(context.Context) error) (err error) {
	ctx, span := m.tracer.Start(ctx, "lock.with_lock",
		trace.WithAttributes(attribute.String("lock_key", key)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	token := uuid.NewString()

	acquire := func() (struct{}, error) {
		ok, setErr := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if setErr != nil {
			log.Printf("lock store fault key=%s err=%v", key, setErr)
			return struct{}{}, backoff.Permanent(apperrors.WrapWithMetadata(
				apperrors.CodeStoreUnavailable, "lock acquisition failed",
				map[string]string{"lock_key": key}, setErr))
		}
		if !ok {
			return struct{}{}, errLockHeld
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retryBase

	if _, err = backoff.Retry(ctx, acquire, backoff.WithBackOff(bo), backoff.WithMaxTries(m.maxRetries)); err != nil {
		if errors.Is(err, errLockHeld) {
			log.Printf("lock unavailable key=%s attempts=%d", key, m.maxRetries)
			return apperrors.WithMetadata(apperrors.CodeLockUnavailable,
				"lock acquisition retries exhausted",
				map[string]string{"lock_key": key, "attempts": fmt.Sprint(m.maxRetries)})
		}
		return err
	}

	defer func() {
		// Release against a fresh context so the critical section's
		// cancellation cannot leak the lock until TTL expiry.
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if releaseErr := releaseScript.Run(releaseCtx, m.client, []string{key}, token).Err(); releaseErr != nil {
			log.Printf("lock release failed key=%s err=%v", key, releaseErr)
		}
	}()

	return fn(ctx)
}

package energy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

const instrumentationName = "github.com/emberworks/duskspire/internal/energy"

const (
	defaultFullRegen   = time.Hour
	defaultMaxAttempts = 3
	defaultRetryBase   = 25 * time.Millisecond
)

// errPoolChanged signals that a concurrent writer mutated the pool between
// the read and the conditional write; the whole cycle is retried.
var errPoolChanged = errors.New("pool changed since read")

// Ledger applies spend and grant mutations to energy pools through a
// read-compute-CAS cycle with bounded exponential-backoff retries.
type Ledger struct {
	store       PoolStore
	fullRegen   time.Duration
	maxAttempts uint
	retryBase   time.Duration
	clock       func() time.Time

	tracer     trace.Tracer
	casRetries metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithFullRegenDuration sets how long an empty pool takes to refill.
func WithFullRegenDuration(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.fullRegen = d
		}
	}
}

// WithMaxAttempts caps CAS cycles per mutation.
func WithMaxAttempts(n uint) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithRetryBase sets the initial backoff delay between CAS retries.
func WithRetryBase(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.retryBase = d
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewLedger creates a ledger over the given pool store.
func NewLedger(store PoolStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		fullRegen:   defaultFullRegen,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		clock:       time.Now,
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(l)
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"duskspire.energy.cas_retries",
		metric.WithDescription("pool CAS cycles rejected by a concurrent writer"),
	)
	if err == nil {
		l.casRetries = counter
	}
	return l
}

// CreatePool registers a full pool for a new character.
func (l *Ledger) CreatePool(ctx context.Context, ownerID string, capacity int64, regenMultiplier float64) (Pool, error) {
	if capacity <= 0 {
		return Pool{}, apperrors.WithMetadata(apperrors.CodeEnergyInvalidCapacity,
			"pool capacity must be positive",
			map[string]string{"owner_id": ownerID, "capacity": fmt.Sprint(capacity)})
	}
	if regenMultiplier <= 0 {
		regenMultiplier = 1
	}
	pool := Pool{
		OwnerID:         ownerID,
		Current:         capacity,
		Capacity:        capacity,
		RegenMultiplier: regenMultiplier,
		UpdatedAt:       l.clock().UTC(),
	}
	if err := l.store.CreatePool(ctx, pool); err != nil {
		return Pool{}, l.storeFault("create pool", ownerID, err)
	}
	return pool, nil
}

// Spend debits amount from the owner's pool after folding in regeneration.
// It fails with ENERGY_INSUFFICIENT before any write when the effective
// balance cannot cover the amount, and with ENERGY_CONTENTION_EXCEEDED when
// concurrent writers exhaust the CAS retry budget.
func (l *Ledger) Spend(ctx context.Context, ownerID string, amount int64) (remaining int64, err error) {
	ctx, span := l.tracer.Start(ctx, "energy.spend",
		trace.WithAttributes(attribute.String("owner_id", ownerID), attribute.Int64("amount", amount)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if amount <= 0 {
		return 0, apperrors.WithMetadata(apperrors.CodeEnergyInvalidAmount,
			"spend amount must be positive",
			map[string]string{"owner_id": ownerID, "amount": fmt.Sprint(amount)})
	}
	return l.mutate(ctx, ownerID, func(effective int64, pool Pool) (int64, error) {
		if effective < amount {
			return 0, apperrors.WithMetadata(apperrors.CodeEnergyInsufficient,
				"insufficient energy",
				map[string]string{
					"owner_id":  ownerID,
					"amount":    fmt.Sprint(amount),
					"effective": fmt.Sprint(effective),
				})
		}
		return effective - amount, nil
	})
}

// GrantOption adjusts grant behavior.
type GrantOption func(*grantConfig)

type grantConfig struct {
	allowOverflow bool
}

// WithOverflow lets a grant push the pool above capacity, for bonus awards.
func WithOverflow() GrantOption {
	return func(c *grantConfig) { c.allowOverflow = true }
}

// Grant credits amount to the owner's pool, clamping at capacity unless
// overflow is allowed. It follows the same CAS discipline as Spend.
func (l *Ledger) Grant(ctx context.Context, ownerID string, amount int64, opts ...GrantOption) (remaining int64, err error) {
	ctx, span := l.tracer.Start(ctx, "energy.grant",
		trace.WithAttributes(attribute.String("owner_id", ownerID), attribute.Int64("amount", amount)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if amount <= 0 {
		return 0, apperrors.WithMetadata(apperrors.CodeEnergyInvalidAmount,
			"grant amount must be positive",
			map[string]string{"owner_id": ownerID, "amount": fmt.Sprint(amount)})
	}
	var cfg grantConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return l.mutate(ctx, ownerID, func(effective int64, pool Pool) (int64, error) {
		target := effective + amount
		if !cfg.allowOverflow && target > pool.Capacity {
			// Never claw back an existing overflow; just stop crediting.
			target = max(pool.Capacity, effective)
		}
		return target, nil
	})
}

// Balance returns the owner's effective balance with regeneration folded in,
// without mutating the pool.
func (l *Ledger) Balance(ctx context.Context, ownerID string) (int64, error) {
	pool, err := l.store.GetPool(ctx, ownerID)
	if err != nil {
		return 0, l.storeFault("read pool", ownerID, err)
	}
	return pool.Current + l.regenFor(pool), nil
}

// mutate runs the read-compute-CAS cycle for one pool. next receives the
// effective balance (stored amount plus folded regeneration) and returns the
// value to persist; returning an error aborts without retrying.
func (l *Ledger) mutate(ctx context.Context, ownerID string, next func(effective int64, pool Pool) (int64, error)) (int64, error) {
	attempts := 0
	cycle := func() (int64, error) {
		attempts++
		pool, err := l.store.GetPool(ctx, ownerID)
		if err != nil {
			return 0, backoff.Permanent(l.storeFault("read pool", ownerID, err))
		}
		effective := pool.Current + l.regenFor(pool)
		target, err := next(effective, pool)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		swapped, err := l.store.CompareAndSwapPool(ctx, ownerID, pool.Current, pool.UpdatedAt, target, l.clock().UTC())
		if err != nil {
			return 0, backoff.Permanent(l.storeFault("write pool", ownerID, err))
		}
		if !swapped {
			if l.casRetries != nil {
				l.casRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("owner_id", ownerID)))
			}
			return 0, errPoolChanged
		}
		return target, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.retryBase

	remaining, err := backoff.Retry(ctx, cycle, backoff.WithBackOff(bo), backoff.WithMaxTries(l.maxAttempts))
	if err != nil {
		if errors.Is(err, errPoolChanged) {
			log.Printf("energy contention exhausted owner_id=%s attempts=%d", ownerID, attempts)
			return 0, apperrors.WithMetadata(apperrors.CodeEnergyContentionExceeded,
				"pool contention retries exhausted",
				map[string]string{"owner_id": ownerID, "attempts": fmt.Sprint(attempts)})
		}
		return 0, err
	}
	return remaining, nil
}

// regenFor folds the pool's regeneration multiplier into the base refill
// duration before computing elapsed regeneration.
func (l *Ledger) regenFor(pool Pool) int64 {
	d := l.fullRegen
	if pool.RegenMultiplier > 0 {
		d = time.Duration(float64(d) / pool.RegenMultiplier)
	}
	return Regen(pool.UpdatedAt, l.clock(), pool.Current, pool.Capacity, d)
}

// storeFault maps infrastructure failures to STORE_UNAVAILABLE. Ledger
// operations fail closed: currency correctness outranks availability.
func (l *Ledger) storeFault(op, ownerID string, err error) error {
	if apperrors.IsCode(err, apperrors.CodeNotFound) || apperrors.IsCode(err, apperrors.CodeAlreadyExists) {
		return err
	}
	log.Printf("energy store fault op=%q owner_id=%s err=%v", op, ownerID, err)
	return apperrors.WrapWithMetadata(apperrors.CodeStoreUnavailable, op+" failed",
		map[string]string{"owner_id": ownerID}, err)
}

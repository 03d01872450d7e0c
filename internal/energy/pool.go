// Package energy implements the per-character action-resource ledger: a
// capped, time-regenerating pool mutated only through bounded
// compare-and-swap cycles so concurrent spenders can never double-debit.
package energy

import (
	"context"
	"time"
)

// Pool is a capped regenerating resource owned by one character. Current
// stays within [0, Capacity] except when a grant explicitly allows overflow.
// UpdatedAt advances on every successful mutation and doubles as the CAS
// version token together with Current.
type Pool struct {
	OwnerID         string
	Current         int64
	Capacity        int64
	RegenMultiplier float64
	UpdatedAt       time.Time
}

// PoolStore persists energy pools.
//
// CompareAndSwapPool must apply the write only when the stored
// amount/timestamp pair still matches the expected values, and report
// whether the swap happened. A false return with nil error means a
// concurrent writer got there first.
type PoolStore interface {
	GetPool(ctx context.Context, ownerID string) (Pool, error)
	CreatePool(ctx context.Context, pool Pool) error
	CompareAndSwapPool(ctx context.Context, ownerID string, expectCurrent int64, expectUpdatedAt time.Time, newCurrent int64, newUpdatedAt time.Time) (bool, error)
}

// Package encounter coordinates cooperative boss fights. One aggregate is
// shared by many concurrent attackers across server instances, so every
// mutation runs inside the encounter's distributed lock; no partial state is
// ever written outside it.
package encounter

import (
	"context"
	"time"
)

// Status is the encounter lifecycle state. An encounter leaves active
// exactly once.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// phaseThresholds are the health fractions at which the fight escalates.
// Transitions are forward-only: a heal can raise health but never lowers
// the phase.
var phaseThresholds = []float64{0.75, 0.50, 0.25}

// Encounter is the shared boss-fight aggregate. Participants maps actor ids
// to cumulative damage contributed.
type Encounter struct {
	ID            string           `json:"id"`
	BossKey       string           `json:"boss_key"`
	MaxHealth     int64            `json:"max_health"`
	CurrentHealth int64            `json:"current_health"`
	Phase         int              `json:"phase"`
	Participants  map[string]int64 `json:"participants"`
	StartedAt     time.Time        `json:"started_at"`
	Deadline      time.Time        `json:"deadline"`
	Status        Status           `json:"status"`
}

// phaseFor derives the phase for a health fraction. Phase 0 is the opening;
// each crossed threshold adds one.
func phaseFor(current, maxHealth int64) int {
	if maxHealth <= 0 {
		return 0
	}
	fraction := float64(current) / float64(maxHealth)
	phase := 0
	for _, threshold := range phaseThresholds {
		if fraction <= threshold {
			phase++
		}
	}
	return phase
}

// Reward is one participant's share of the defeat payout.
type Reward struct {
	ActorID   string
	Amount    int64
	FirstKill bool
}

// Outcome reports the effect of one attack.
type Outcome struct {
	Encounter Encounter
	Defeated  bool
	PhaseUp   bool
	Rewards   []Reward
}

// Store persists encounter aggregates and per-boss kill counters in the
// shared key-value store.
type Store interface {
	Get(ctx context.Context, id string) (Encounter, error)
	Put(ctx context.Context, enc Encounter) error
	// Archive moves a terminal encounter onto a grace-period TTL so status
	// queries keep working briefly, then the record self-destructs.
	Archive(ctx context.Context, enc Encounter, grace time.Duration) error
	ActiveIDs(ctx context.Context) ([]string, error)
	// IncrKillCount atomically increments the per-boss kill counter and
	// returns the new value. Callers invoke it under the encounter lock.
	IncrKillCount(ctx context.Context, bossKey string) (int64, error)
}

// Locker serializes aggregate mutations cluster-wide.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// RewardSink receives defeat payouts, typically the energy ledger with
// overflow allowed.
type RewardSink interface {
	Reward(ctx context.Context, actorID string, amount int64) error
}

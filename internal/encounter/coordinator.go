package encounter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

const instrumentationName = "github.com/emberworks/duskspire/internal/encounter"

const (
	defaultGrace              = 10 * time.Minute
	defaultMinContributionPct = 0.05
	defaultFirstKillBonusPct  = 0.25
)

func lockKey(id string) string { return "lock:encounter:" + id }

// Coordinator runs the encounter state machine. Spawn, Join, Attack and the
// deadline sweep all mutate the aggregate under its distributed lock; Status
// reads without locking since every write is a single atomic Put.
type Coordinator struct {
	store   Store
	locker  Locker
	rewards RewardSink

	grace        time.Duration
	minPct       float64
	firstKillPct float64
	clock        func() time.Time

	attacks metric.Int64Counter
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithGrace sets how long terminal encounters stay queryable before
// self-archiving.
func WithGrace(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithMinContribution sets the damage fraction below which a participant is
// excluded from rewards.
func WithMinContribution(pct float64) CoordinatorOption {
	return func(c *Coordinator) {
		if pct >= 0 && pct < 1 {
			c.minPct = pct
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCoordinator creates a Coordinator over the given store and lock.
func NewCoordinator(store Store, locker Locker, rewards RewardSink, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:        store,
		locker:       locker,
		rewards:      rewards,
		grace:        defaultGrace,
		minPct:       defaultMinContributionPct,
		firstKillPct: defaultFirstKillBonusPct,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"duskspire.encounter.attacks",
		metric.WithDescription("attacks recorded against encounter aggregates"),
	)
	if err == nil {
		c.attacks = counter
	}
	return c
}

// Spawn creates a new active encounter and returns it.
func (c *Coordinator) Spawn(ctx context.Context, bossKey string, maxHealth int64, duration time.Duration) (Encounter, error) {
	bossKey = strings.TrimSpace(bossKey)
	if bossKey == "" || maxHealth <= 0 || duration <= 0 {
		return Encounter{}, apperrors.WithMetadata(apperrors.CodeEncounterInvalidSpawn,
			"boss key, positive health, and positive duration are required",
			map[string]string{"boss_key": bossKey})
	}

	now := c.clock().UTC()
	enc := Encounter{
		ID:            uuid.NewString(),
		BossKey:       bossKey,
		MaxHealth:     maxHealth,
		CurrentHealth: maxHealth,
		Phase:         0,
		Participants:  make(map[string]int64),
		StartedAt:     now,
		Deadline:      now.Add(duration),
		Status:        StatusActive,
	}
	if err := c.store.Put(ctx, enc); err != nil {
		return Encounter{}, c.storeFault("spawn encounter", enc.ID, err)
	}
	log.Printf("encounter spawned id=%s boss_key=%s max_health=%d deadline=%s", enc.ID, bossKey, maxHealth, enc.Deadline.Format(time.RFC3339))
	return enc, nil
}

// Join registers an actor as a participant. Joining twice is a no-op.
func (c *Coordinator) Join(ctx context.Context, encounterID, actorID string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return apperrors.New(apperrors.CodeEncounterInvalidDamage, "actor id is required")
	}
	return c.locker.WithLock(ctx, lockKey(encounterID), func(ctx context.Context) error {
		enc, err := c.load(ctx, encounterID)
		if err != nil {
			return err
		}
		if err := c.requireActive(ctx, &enc); err != nil {
			return err
		}
		if _, ok := enc.Participants[actorID]; ok {
			return nil
		}
		enc.Participants[actorID] = 0
		if err := c.store.Put(ctx, enc); err != nil {
			return c.storeFault("join encounter", encounterID, err)
		}
		return nil
	})
}

// Attack records damage against the boss. Phase transitions are forward-only
// and defeat fires exactly once: the whole read-mutate-settle pass holds the
// encounter lock, so no two attackers can both push health past zero.
func (c *Coordinator) Attack(ctx context.Context, encounterID, actorID string, damage int64) (Outcome, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" || damage <= 0 {
		return Outcome{}, apperrors.WithMetadata(apperrors.CodeEncounterInvalidDamage,
			"actor id and positive damage are required",
			map[string]string{"encounter_id": encounterID, "actor_id": actorID, "damage": fmt.Sprint(damage)})
	}

	var outcome Outcome
	err := c.locker.WithLock(ctx, lockKey(encounterID), func(ctx context.Context) error {
		enc, err := c.load(ctx, encounterID)
		if err != nil {
			return err
		}
		if err := c.requireActive(ctx, &enc); err != nil {
			return err
		}

		// The full hit is credited even when it overshoots, so cumulative
		// recorded damage exceeds max health by at most this one hit.
		enc.Participants[actorID] += damage
		enc.CurrentHealth -= damage
		if enc.CurrentHealth < 0 {
			enc.CurrentHealth = 0
		}

		if next := phaseFor(enc.CurrentHealth, enc.MaxHealth); next > enc.Phase {
			enc.Phase = next
			outcome.PhaseUp = true
		}

		if enc.CurrentHealth == 0 {
			enc.Status = StatusCompleted
			outcome.Defeated = true
			// Persist the terminal status before paying anyone: if the
			// write fails, the fight is still active and nothing has been
			// granted, so a retried killing blow cannot settle twice.
			if err := c.store.Archive(ctx, enc, c.grace); err != nil {
				return c.storeFault("archive encounter", encounterID, err)
			}
			outcome.Rewards = c.settle(ctx, &enc)
		} else if err := c.store.Put(ctx, enc); err != nil {
			return c.storeFault("record attack", encounterID, err)
		}

		outcome.Encounter = enc
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if c.attacks != nil {
		c.attacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("boss_key", outcome.Encounter.BossKey),
			attribute.Bool("defeated", outcome.Defeated),
		))
	}
	if outcome.Defeated {
		log.Printf("encounter defeated id=%s boss_key=%s participants=%d", encounterID, outcome.Encounter.BossKey, len(outcome.Encounter.Participants))
	}
	return outcome, nil
}

// Status returns the aggregate without mutating it.
func (c *Coordinator) Status(ctx context.Context, encounterID string) (Encounter, error) {
	enc, err := c.load(ctx, encounterID)
	if err != nil {
		return Encounter{}, err
	}
	return enc, nil
}

// SweepExpired fails every active encounter whose deadline has passed. Run
// periodically by the worker rather than on each request path.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	ids, err := c.store.ActiveIDs(ctx)
	if err != nil {
		return 0, c.storeFault("list encounters", "", err)
	}

	swept := 0
	var errs []error
	for _, id := range ids {
		err := c.locker.WithLock(ctx, lockKey(id), func(ctx context.Context) error {
			enc, err := c.load(ctx, id)
			if err != nil {
				if apperrors.IsCode(err, apperrors.CodeNotFound) {
					return nil
				}
				return err
			}
			if enc.Status != StatusActive || c.clock().UTC().Before(enc.Deadline) {
				return nil
			}
			enc.Status = StatusFailed
			if err := c.store.Archive(ctx, enc, c.grace); err != nil {
				return c.storeFault("archive encounter", id, err)
			}
			swept++
			log.Printf("encounter expired id=%s boss_key=%s deadline=%s", id, enc.BossKey, enc.Deadline.Format(time.RFC3339))
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", id, err))
		}
	}
	return swept, errors.Join(errs...)
}

// load fetches the aggregate, mapping store misses to NOT_FOUND.
func (c *Coordinator) load(ctx context.Context, encounterID string) (Encounter, error) {
	enc, err := c.store.Get(ctx, encounterID)
	if err != nil {
		return Encounter{}, c.storeFault("read encounter", encounterID, err)
	}
	if enc.Participants == nil {
		enc.Participants = make(map[string]int64)
	}
	return enc, nil
}

// requireActive rejects mutations against terminal or expired encounters.
// An expired-but-unswept encounter fails in place so the sweep interval
// never extends a fight.
func (c *Coordinator) requireActive(ctx context.Context, enc *Encounter) error {
	switch {
	case enc.Status != StatusActive:
		return apperrors.WithMetadata(apperrors.CodeEncounterNotActive,
			"encounter is no longer active",
			map[string]string{"encounter_id": enc.ID, "status": string(enc.Status)})
	case !c.clock().UTC().Before(enc.Deadline):
		enc.Status = StatusFailed
		if err := c.store.Archive(ctx, *enc, c.grace); err != nil {
			log.Printf("encounter expiry archive failed id=%s err=%v", enc.ID, err)
		}
		return apperrors.WithMetadata(apperrors.CodeEncounterExpired,
			"encounter deadline has passed",
			map[string]string{"encounter_id": enc.ID, "deadline": enc.Deadline.Format(time.RFC3339)})
	default:
		return nil
	}
}

// settle computes the defeat payout exactly once, inside the same lock that
// flipped the status. Contributions are ranked descending, negligible
// participants are gated out, and the top contributor's first-kill bonus is
// decided by the per-boss kill counter incremented here.
func (c *Coordinator) settle(ctx context.Context, enc *Encounter) []Reward {
	total := int64(0)
	for _, contribution := range enc.Participants {
		total += contribution
	}
	if total <= 0 {
		return nil
	}

	type entry struct {
		actorID string
		damage  int64
	}
	ranked := make([]entry, 0, len(enc.Participants))
	for actorID, damage := range enc.Participants {
		ranked = append(ranked, entry{actorID: actorID, damage: damage})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].damage != ranked[j].damage {
			return ranked[i].damage > ranked[j].damage
		}
		return ranked[i].actorID < ranked[j].actorID
	})

	firstKill := false
	kills, err := c.store.IncrKillCount(ctx, enc.BossKey)
	if err != nil {
		// Missing the bonus is recoverable; double-awarding is not. Fail
		// toward no bonus.
		log.Printf("encounter kill counter failed boss_key=%s err=%v", enc.BossKey, err)
	} else {
		firstKill = kills == 1
	}

	rewardPool := enc.MaxHealth
	var rewards []Reward
	for i, entry := range ranked {
		pct := float64(entry.damage) / float64(total)
		if pct < c.minPct {
			continue
		}
		reward := Reward{
			ActorID: entry.actorID,
			Amount:  rewardPool * entry.damage / total,
		}
		if i == 0 && firstKill {
			reward.FirstKill = true
			reward.Amount += int64(float64(rewardPool) * c.firstKillPct)
		}
		if reward.Amount <= 0 {
			continue
		}
		if c.rewards != nil {
			if err := c.rewards.Reward(ctx, entry.actorID, reward.Amount); err != nil {
				// The aggregate still settles; payout retries are an
				// operational concern, not a combat one.
				log.Printf("encounter reward grant failed encounter_id=%s actor_id=%s amount=%d err=%v",
					enc.ID, entry.actorID, reward.Amount, err)
			}
		}
		rewards = append(rewards, reward)
	}
	return rewards
}

// storeFault maps infrastructure failures to STORE_UNAVAILABLE; encounter
// mutations fail closed.
func (c *Coordinator) storeFault(op, encounterID string, err error) error {
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return err
	}
	log.Printf("encounter store fault op=%q encounter_id=%s err=%v", op, encounterID, err)
	return apperrors.WrapWithMetadata(apperrors.CodeStoreUnavailable, op+" failed",
		map[string]string{"encounter_id": encounterID}, err)
}

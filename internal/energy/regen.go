package energy

import "time"

// Regen computes how many units regenerated between lastUpdate and now for a
// pool that refills from empty to capacity over fullRegen. The result is
// clamped to [0, capacity-current] so folding it into the pool can never
// overshoot the cap. Negative elapsed time (clock skew across hosts)
// regenerates nothing.
func Regen(lastUpdate, now time.Time, current, capacity int64, fullRegen time.Duration) int64 {
	if capacity <= 0 || fullRegen <= 0 {
		return 0
	}
	room := capacity - current
	if room <= 0 {
		return 0
	}
	elapsed := now.Sub(lastUpdate)
	if elapsed <= 0 {
		return 0
	}
	gained := elapsed.Milliseconds() * capacity / fullRegen.Milliseconds()
	if gained >= room {
		return room
	}
	return gained
}

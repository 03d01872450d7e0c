package energy

import (
	"testing"
	"time"
)

func TestRegen(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		elapsed   time.Duration
		current   int64
		capacity  int64
		fullRegen time.Duration
		want      int64
	}{
		{"half window refills half capacity", 30 * time.Minute, 0, 100, time.Hour, 50},
		{"full window refills to capacity", time.Hour, 0, 100, time.Hour, 100},
		{"beyond full window clamps to room", 3 * time.Hour, 0, 100, time.Hour, 100},
		{"room limits regen", 30 * time.Minute, 80, 100, time.Hour, 20},
		{"no elapsed time", 0, 10, 100, time.Hour, 0},
		{"negative elapsed (clock skew)", -time.Minute, 10, 100, time.Hour, 0},
		{"already at capacity", time.Hour, 100, 100, time.Hour, 0},
		{"above capacity after overflow grant", time.Hour, 120, 100, time.Hour, 0},
		{"sub-unit elapsed truncates", 10 * time.Millisecond, 0, 100, time.Hour, 0},
		{"zero capacity", time.Hour, 0, 0, time.Hour, 0},
		{"zero regen duration", time.Hour, 0, 100, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Regen(base, base.Add(tc.elapsed), tc.current, tc.capacity, tc.fullRegen)
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestRegenWithinBounds(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for elapsed := time.Duration(0); elapsed <= 2*time.Hour; elapsed += 7 * time.Minute {
		for current := int64(0); current <= 100; current += 25 {
			got := Regen(base, base.Add(elapsed), current, 100, time.Hour)
			if got < 0 || got > 100-current {
				t.Fatalf("elapsed=%v current=%d: regen %d out of [0, %d]", elapsed, current, got, 100-current)
			}
		}
	}
}

func TestRegenMonotonicInElapsedTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev := int64(0)
	for elapsed := time.Duration(0); elapsed <= 90*time.Minute; elapsed += time.Minute {
		got := Regen(base, base.Add(elapsed), 10, 100, time.Hour)
		if got < prev {
			t.Fatalf("regen decreased from %d to %d at elapsed=%v", prev, got, elapsed)
		}
		prev = got
	}
}

package market

// EventKind classifies a world event's effect on a rate.
type EventKind string

const (
	// EventScarcity pushes the rate up: raid losses, droughts, war demand.
	EventScarcity EventKind = "scarcity"
	// EventSurplus pushes the rate down: bumper harvests, market floods.
	EventSurplus EventKind = "surplus"
	// EventCorrection is the periodic mean-reversion pull toward the base
	// rate, applied by the worker rather than sampled randomly.
	EventCorrection EventKind = "correction"
)

// Multiplier sampling ranges for random shocks, and the fraction of the
// distance toward the base rate a correction covers.
const (
	scarcityMin = 1.15
	scarcityMax = 1.25
	surplusMin  = 0.80
	surplusMax  = 0.90

	correctionPull = 0.20
)

// Package market implements the shared in-game exchange: event-driven
// multiplicative price movement with clamping and mean reversion, spread-fee
// quotes, append-only price history, and atomically maintained 24h window
// stats.
package market

import (
	"context"
	"time"
)

// Trend is the direction of the latest rate movement.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Rate is the live exchange record for one resource type. Current always
// stays within [Min, Max].
type Rate struct {
	ResourceType  string
	Current       float64
	Base          float64
	Min           float64
	Max           float64
	Volatility    float64
	Trend         Trend
	TrendStrength int
	LastEvent     string
	UpdatedAt     time.Time
}

// HistoryPoint is one immutable sample of the rate over time, kept separate
// from the mutable live record for charting.
type HistoryPoint struct {
	ResourceType string
	Rate         float64
	Volume       int64
	Event        string
	At           time.Time
}

// Quote is the externally visible price for one resource type. The spread
// fee keeps Sell strictly below Buy, funding the exchange and bounding
// arbitrage.
type Quote struct {
	ResourceType  string
	Buy           int64
	Sell          int64
	Trend         Trend
	TrendStrength int
	High24h       float64
	Low24h        float64
	Volume24h     int64
}

// Definition seeds one tradable resource type.
type Definition struct {
	ResourceType string
	Base         float64
	Min          float64
	Max          float64
	Volatility   float64
}

// WindowStats is the rolling 24h aggregate for one resource type.
type WindowStats struct {
	High   float64
	Low    float64
	Volume int64
}

// RateStore persists live rates and the append-only price history.
//
// CompareAndSwapRate must apply the write only when the stored rate/timestamp
// pair still matches the expected values, mirroring the energy pool CAS.
type RateStore interface {
	GetRate(ctx context.Context, resourceType string) (Rate, error)
	InitRate(ctx context.Context, def Definition) error
	ListResourceTypes(ctx context.Context) ([]string, error)
	CompareAndSwapRate(ctx context.Context, resourceType string, expectCurrent float64, expectUpdatedAt time.Time, next Rate) (bool, error)
	AppendHistory(ctx context.Context, point HistoryPoint) error
	History(ctx context.Context, resourceType string, since time.Time) ([]HistoryPoint, error)
	PruneHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// StatsStore maintains the rolling 24h window. RecordTrade must use atomic
// server-side operations so concurrent trades cannot lose updates.
type StatsStore interface {
	RecordTrade(ctx context.Context, resourceType string, rate float64, volume int64) error
	Window(ctx context.Context, resourceType string) (WindowStats, error)
	ResetWindow(ctx context.Context, resourceType string) error
}

package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

const instrumentationName = "github.com/emberworks/duskspire/internal/market"

const (
	defaultFee         = 0.05
	defaultMaxAttempts = 3
	defaultRetryBase   = 25 * time.Millisecond
)

// errRateChanged signals that a concurrent writer moved the rate between the
// read and the conditional write.
var errRateChanged = errors.New("rate changed since read")

// Engine applies market events to live rates and serves quotes and history.
type Engine struct {
	rates       RateStore
	stats       StatsStore
	fee         float64
	maxAttempts uint
	retryBase   time.Duration
	clock       func() time.Time
	rng         func() float64

	casRetries metric.Int64Counter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFee sets the spread fee applied to quoted prices.
func WithFee(fee float64) EngineOption {
	return func(e *Engine) {
		if fee > 0 {
			e.fee = fee
		}
	}
}

// WithMaxAttempts caps CAS cycles per event application.
func WithMaxAttempts(n uint) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryBase sets the initial backoff delay between CAS retries.
func WithRetryBase(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.retryBase = d
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRand overrides the uniform [0,1) sampler used for event multipliers,
// primarily for tests.
func WithRand(rng func() float64) EngineOption {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// NewEngine creates a price engine over the given stores.
func NewEngine(rates RateStore, stats StatsStore, opts ...EngineOption) *Engine {
	e := &Engine{
		rates:       rates,
		stats:       stats,
		fee:         defaultFee,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		clock:       time.Now,
		rng:         rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"duskspire.market.cas_retries",
		metric.WithDescription("rate CAS cycles rejected by a concurrent writer"),
	)
	if err == nil {
		e.casRetries = counter
	}
	return e
}

// ApplyEvent moves a resource's rate according to the event kind, clamps it
// into [Min, Max], derives trend data, and appends an immutable history
// point. Concurrent movements are linearized through a bounded CAS retry
// loop.
func (e *Engine) ApplyEvent(ctx context.Context, resourceType string, kind EventKind, descriptor string) (Rate, error) {
	attempts := 0
	cycle := func() (Rate, error) {
		attempts++
		rate, err := e.rates.GetRate(ctx, resourceType)
		if err != nil {
			return Rate{}, backoff.Permanent(e.storeFault("read rate", resourceType, err))
		}

		multiplier, err := e.multiplier(kind, rate)
		if err != nil {
			return Rate{}, backoff.Permanent(err)
		}

		next := rate
		next.Current = clampRate(rate.Current*multiplier, rate.Min, rate.Max)
		next.Trend, next.TrendStrength = trendOf(rate.Current, next.Current)
		next.LastEvent = eventLabel(kind, descriptor)
		next.UpdatedAt = e.clock().UTC()

		swapped, err := e.rates.CompareAndSwapRate(ctx, resourceType, rate.Current, rate.UpdatedAt, next)
		if err != nil {
			return Rate{}, backoff.Permanent(e.storeFault("write rate", resourceType, err))
		}
		if !swapped {
			if e.casRetries != nil {
				e.casRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("resource_type", resourceType)))
			}
			return Rate{}, errRateChanged
		}
		return next, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryBase

	next, err := backoff.Retry(ctx, cycle, backoff.WithBackOff(bo), backoff.WithMaxTries(e.maxAttempts))
	if err != nil {
		if errors.Is(err, errRateChanged) {
			log.Printf("market contention exhausted resource_type=%s event=%s attempts=%d", resourceType, kind, attempts)
			return Rate{}, apperrors.WithMetadata(apperrors.CodeMarketContentionExceeded,
				"rate contention retries exhausted",
				map[string]string{"resource_type": resourceType, "event": string(kind), "attempts": fmt.Sprint(attempts)})
		}
		return Rate{}, err
	}

	if err := e.rates.AppendHistory(ctx, HistoryPoint{
		ResourceType: resourceType,
		Rate:         next.Current,
		Event:        next.LastEvent,
		At:           next.UpdatedAt,
	}); err != nil {
		// The live rate already moved; a missing chart sample is not worth
		// failing the event for.
		log.Printf("market history append failed resource_type=%s err=%v", resourceType, err)
	}
	return next, nil
}

// multiplier computes the rate multiplier for an event kind. Random shocks
// sample from fixed ranges scaled by the resource's volatility; corrections
// deterministically pull toward the base rate.
func (e *Engine) multiplier(kind EventKind, rate Rate) (float64, error) {
	volatility := rate.Volatility
	if volatility <= 0 {
		volatility = 1
	}
	switch kind {
	case EventScarcity:
		sampled := scarcityMin + e.rng()*(scarcityMax-scarcityMin)
		return 1 + (sampled-1)*volatility, nil
	case EventSurplus:
		sampled := surplusMin + e.rng()*(surplusMax-surplusMin)
		return 1 - (1-sampled)*volatility, nil
	case EventCorrection:
		if rate.Current <= 0 {
			return 1, nil
		}
		target := rate.Current + (rate.Base-rate.Current)*correctionPull
		return target / rate.Current, nil
	default:
		return 0, apperrors.WithMetadata(apperrors.CodeMarketUnknownEvent,
			"unknown market event kind",
			map[string]string{"resource_type": rate.ResourceType, "event": string(kind)})
	}
}

// Quote returns the externally visible prices for one resource type, folding
// in the rolling 24h window. Window faults degrade the quote rather than
// failing it: the stats are advisory.
func (e *Engine) Quote(ctx context.Context, resourceType string) (Quote, error) {
	rate, err := e.rates.GetRate(ctx, resourceType)
	if err != nil {
		return Quote{}, e.storeFault("read rate", resourceType, err)
	}

	window, err := e.stats.Window(ctx, resourceType)
	if err != nil {
		log.Printf("market window stats unavailable resource_type=%s err=%v", resourceType, err)
		window = WindowStats{}
	}

	buy, sell := spreadPrices(rate.Current, e.fee)
	return Quote{
		ResourceType:  resourceType,
		Buy:           buy,
		Sell:          sell,
		Trend:         rate.Trend,
		TrendStrength: rate.TrendStrength,
		High24h:       window.High,
		Low24h:        window.Low,
		Volume24h:     window.Volume,
	}, nil
}

// Quotes returns quotes for every known resource type.
func (e *Engine) Quotes(ctx context.Context) ([]Quote, error) {
	types, err := e.rates.ListResourceTypes(ctx)
	if err != nil {
		return nil, e.storeFault("list resource types", "", err)
	}
	quotes := make([]Quote, 0, len(types))
	for _, resourceType := range types {
		quote, err := e.Quote(ctx, resourceType)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// RecordTrade folds one trade into the rolling 24h window and the price
// history. Window updates are atomic on the store side so concurrent trades
// cannot lose increments.
func (e *Engine) RecordTrade(ctx context.Context, resourceType string, volume int64) error {
	if volume <= 0 {
		return apperrors.WithMetadata(apperrors.CodeMarketInvalidVolume,
			"trade volume must be positive",
			map[string]string{"resource_type": resourceType, "volume": fmt.Sprint(volume)})
	}
	rate, err := e.rates.GetRate(ctx, resourceType)
	if err != nil {
		return e.storeFault("read rate", resourceType, err)
	}
	if err := e.stats.RecordTrade(ctx, resourceType, rate.Current, volume); err != nil {
		return e.storeFault("record trade", resourceType, err)
	}
	if err := e.rates.AppendHistory(ctx, HistoryPoint{
		ResourceType: resourceType,
		Rate:         rate.Current,
		Volume:       volume,
		Event:        "trade",
		At:           e.clock().UTC(),
	}); err != nil {
		log.Printf("market history append failed resource_type=%s err=%v", resourceType, err)
	}
	return nil
}

// History returns the chart samples for a resource within the window.
func (e *Engine) History(ctx context.Context, resourceType string, window time.Duration) ([]HistoryPoint, error) {
	since := e.clock().UTC().Add(-window)
	points, err := e.rates.History(ctx, resourceType, since)
	if err != nil {
		return nil, e.storeFault("read history", resourceType, err)
	}
	return points, nil
}

// ApplyCorrections runs one mean-reversion pass over every resource type.
// Invoked periodically by the worker.
func (e *Engine) ApplyCorrections(ctx context.Context) error {
	types, err := e.rates.ListResourceTypes(ctx)
	if err != nil {
		return e.storeFault("list resource types", "", err)
	}
	var errs []error
	for _, resourceType := range types {
		if _, err := e.ApplyEvent(ctx, resourceType, EventCorrection, "market correction"); err != nil {
			errs = append(errs, fmt.Errorf("correct %s: %w", resourceType, err))
		}
	}
	return errors.Join(errs...)
}

// ResetWindows clears every resource's rolling 24h window. Invoked by the
// periodic window-rollover job.
func (e *Engine) ResetWindows(ctx context.Context) error {
	types, err := e.rates.ListResourceTypes(ctx)
	if err != nil {
		return e.storeFault("list resource types", "", err)
	}
	var errs []error
	for _, resourceType := range types {
		if err := e.stats.ResetWindow(ctx, resourceType); err != nil {
			errs = append(errs, fmt.Errorf("reset window %s: %w", resourceType, err))
		}
	}
	return errors.Join(errs...)
}

// PruneHistory drops history points older than the retention window.
func (e *Engine) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	pruned, err := e.rates.PruneHistory(ctx, e.clock().UTC().Add(-retention))
	if err != nil {
		return 0, e.storeFault("prune history", "", err)
	}
	return pruned, nil
}

// Seed idempotently registers resource definitions.
func (e *Engine) Seed(ctx context.Context, defs []Definition) error {
	for _, def := range defs {
		if def.ResourceType == "" || def.Base <= 0 || def.Min <= 0 || def.Max < def.Min {
			return apperrors.WithMetadata(apperrors.CodeMarketInvalidDefinition,
				"invalid resource definition",
				map[string]string{"resource_type": def.ResourceType})
		}
		if err := e.rates.InitRate(ctx, def); err != nil {
			return e.storeFault("init rate", def.ResourceType, err)
		}
	}
	return nil
}

// spreadPrices derives integer coin prices from the live rate. Buy rounds
// up and sell rounds down, so sell < buy for every positive fee.
func spreadPrices(rate, fee float64) (buy, sell int64) {
	r := decimal.NewFromFloat(rate)
	buy = r.Mul(decimal.NewFromFloat(1 + fee)).Ceil().IntPart()
	sell = r.Mul(decimal.NewFromFloat(1 - fee)).Floor().IntPart()
	return buy, sell
}

func clampRate(value, minRate, maxRate float64) float64 {
	return math.Min(math.Max(value, minRate), maxRate)
}

// trendOf derives direction and a bounded 0-100 strength from the
// percentage change between the old and new rate.
func trendOf(prev, next float64) (Trend, int) {
	if prev <= 0 {
		return TrendStable, 0
	}
	pct := (next - prev) / prev * 100
	strength := int(math.Min(100, math.Abs(pct)*5))
	switch {
	case pct > 0.5:
		return TrendUp, strength
	case pct < -0.5:
		return TrendDown, strength
	default:
		return TrendStable, strength
	}
}

func eventLabel(kind EventKind, descriptor string) string {
	if descriptor != "" {
		return descriptor
	}
	return string(kind)
}

// storeFault maps infrastructure failures to STORE_UNAVAILABLE; rate and
// history operations fail closed.
func (e *Engine) storeFault(op, resourceType string, err error) error {
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return err
	}
	log.Printf("market store fault op=%q resource_type=%s err=%v", op, resourceType, err)
	return apperrors.WrapWithMetadata(apperrors.CodeStoreUnavailable, op+" failed",
		map[string]string{"resource_type": resourceType}, err)
}

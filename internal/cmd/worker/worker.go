// Package worker parses worker command flags and launches the periodic-job
// runtime: encounter deadline sweeps, market corrections, 24h window resets,
// history pruning, and the optional market event feed.
package worker

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/oklog/run"

	"github.com/emberworks/duskspire/internal/encounter"
	"github.com/emberworks/duskspire/internal/energy"
	energysqlite "github.com/emberworks/duskspire/internal/energy/sqlite"
	"github.com/emberworks/duskspire/internal/lock"
	"github.com/emberworks/duskspire/internal/market"
	"github.com/emberworks/duskspire/internal/market/feed"
	marketsqlite "github.com/emberworks/duskspire/internal/market/sqlite"
	"github.com/emberworks/duskspire/internal/platform/config"
	"github.com/emberworks/duskspire/internal/platform/kv"
	"github.com/emberworks/duskspire/internal/platform/otel"
)

// Config holds worker command configuration.
type Config struct {
	RedisAddr     string `env:"DUSKSPIRE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"DUSKSPIRE_REDIS_PASSWORD"`
	RedisDB       int    `env:"DUSKSPIRE_REDIS_DB" envDefault:"0"`

	EnergyDBPath string `env:"DUSKSPIRE_ENERGY_DB_PATH" envDefault:"data/energy.db"`
	MarketDBPath string `env:"DUSKSPIRE_MARKET_DB_PATH" envDefault:"data/market.db"`

	MarketFee           float64       `env:"DUSKSPIRE_MARKET_FEE" envDefault:"0.05"`
	CorrectionInterval  time.Duration `env:"DUSKSPIRE_MARKET_CORRECTION_INTERVAL" envDefault:"1h"`
	WindowResetInterval time.Duration `env:"DUSKSPIRE_MARKET_WINDOW_RESET_INTERVAL" envDefault:"24h"`
	HistoryRetention    time.Duration `env:"DUSKSPIRE_MARKET_HISTORY_RETENTION" envDefault:"168h"`
	PruneInterval       time.Duration `env:"DUSKSPIRE_MARKET_PRUNE_INTERVAL" envDefault:"6h"`

	SweepInterval  time.Duration `env:"DUSKSPIRE_ENCOUNTER_SWEEP_INTERVAL" envDefault:"30s"`
	EncounterGrace time.Duration `env:"DUSKSPIRE_ENCOUNTER_GRACE" envDefault:"10m"`

	KafkaBrokers []string `env:"DUSKSPIRE_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"DUSKSPIRE_KAFKA_TOPIC" envDefault:"world-events"`
	KafkaGroup   string   `env:"DUSKSPIRE_KAFKA_GROUP" envDefault:"duskspire-market"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "The shared key-value store address")
	fs.StringVar(&cfg.EnergyDBPath, "energy-db-path", cfg.EnergyDBPath, "The energy pool SQLite database path")
	fs.StringVar(&cfg.MarketDBPath, "market-db-path", cfg.MarketDBPath, "The market SQLite database path")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Encounter deadline sweep interval")
	fs.DurationVar(&cfg.CorrectionInterval, "correction-interval", cfg.CorrectionInterval, "Market mean-reversion interval")
	fs.DurationVar(&cfg.WindowResetInterval, "window-reset-interval", cfg.WindowResetInterval, "Rolling stats window reset interval")
	fs.DurationVar(&cfg.PruneInterval, "prune-interval", cfg.PruneInterval, "Price history pruning interval")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ledgerSink grants encounter rewards through the energy ledger. Bonus
// payouts may overflow pool capacity.
type ledgerSink struct {
	ledger *energy.Ledger
}

func (s ledgerSink) Reward(ctx context.Context, actorID string, amount int64) error {
	_, err := s.ledger.Grant(ctx, actorID, amount, energy.WithOverflow())
	return err
}

// Run starts the worker runtime and blocks until the context is canceled or
// a job actor fails.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "duskspire-worker")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown failed err=%v", err)
		}
	}()

	client, err := kv.Open(ctx, kv.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	energyStore, err := energysqlite.Open(cfg.EnergyDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = energyStore.Close() }()

	rateStore, err := marketsqlite.Open(cfg.MarketDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = rateStore.Close() }()

	ledger := energy.NewLedger(energyStore)
	engine := market.NewEngine(rateStore, market.NewRedisStats(client), market.WithFee(cfg.MarketFee))
	locker := lock.New(client)
	coordinator := encounter.NewCoordinator(
		encounter.NewRedisStore(client),
		locker,
		ledgerSink{ledger: ledger},
		encounter.WithGrace(cfg.EncounterGrace),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group run.Group
	group.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {
		cancel()
	})

	addTicker(&group, ctx, "encounter-sweep", cfg.SweepInterval, func(ctx context.Context) error {
		swept, err := coordinator.SweepExpired(ctx)
		if swept > 0 {
			log.Printf("encounter sweep swept=%d", swept)
		}
		return err
	})
	addTicker(&group, ctx, "market-correction", cfg.CorrectionInterval, engine.ApplyCorrections)
	addTicker(&group, ctx, "market-window-reset", cfg.WindowResetInterval, engine.ResetWindows)
	addTicker(&group, ctx, "market-history-prune", cfg.PruneInterval, func(ctx context.Context) error {
		pruned, err := engine.PruneHistory(ctx, cfg.HistoryRetention)
		if pruned > 0 {
			log.Printf("market history pruned points=%d", pruned)
		}
		return err
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := feed.NewConsumer(feed.Options{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Group:   cfg.KafkaGroup,
		}, engine)
		if err != nil {
			return err
		}
		group.Add(func() error {
			return consumer.Run(ctx)
		}, func(error) {
			_ = consumer.Close()
			cancel()
		})
	}

	log.Printf("worker running redis_addr=%s feed_enabled=%t", cfg.RedisAddr, len(cfg.KafkaBrokers) > 0)
	if err := group.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// addTicker registers a periodic job actor. Job failures are logged and the
// ticker keeps running; only context cancellation stops the actor.
func addTicker(group *run.Group, ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	jobCtx, cancel := context.WithCancel(ctx)
	group.Add(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := tick(jobCtx); err != nil {
					log.Printf("worker job failed job=%s err=%v", name, err)
				}
			case <-jobCtx.Done():
				return jobCtx.Err()
			}
		}
	}, func(error) {
		cancel()
	})
}

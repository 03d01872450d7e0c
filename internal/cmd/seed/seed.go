// Package seed parses seed command flags and populates a fresh deployment:
// idempotent exchange-rate definitions plus optional demo energy pools.
package seed

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/emberworks/duskspire/internal/energy"
	energysqlite "github.com/emberworks/duskspire/internal/energy/sqlite"
	"github.com/emberworks/duskspire/internal/market"
	marketsqlite "github.com/emberworks/duskspire/internal/market/sqlite"
	appconfig "github.com/emberworks/duskspire/internal/platform/config"
	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
)

// Config holds seed command configuration.
type Config struct {
	EnergyDBPath string `env:"DUSKSPIRE_ENERGY_DB_PATH" envDefault:"data/energy.db"`
	MarketDBPath string `env:"DUSKSPIRE_MARKET_DB_PATH" envDefault:"data/market.db"`

	DemoOwners   []string `env:"DUSKSPIRE_SEED_DEMO_OWNERS" envSeparator:","`
	DemoCapacity int64    `env:"DUSKSPIRE_SEED_DEMO_CAPACITY" envDefault:"100"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := appconfig.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	var owners string
	fs.StringVar(&cfg.EnergyDBPath, "energy-db-path", cfg.EnergyDBPath, "The energy pool SQLite database path")
	fs.StringVar(&cfg.MarketDBPath, "market-db-path", cfg.MarketDBPath, "The market SQLite database path")
	fs.StringVar(&owners, "demo-owners", strings.Join(cfg.DemoOwners, ","), "Comma-separated owner ids to create demo energy pools for")
	fs.Int64Var(&cfg.DemoCapacity, "demo-capacity", cfg.DemoCapacity, "Capacity of demo energy pools")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if owners != "" {
		cfg.DemoOwners = strings.Split(owners, ",")
	}
	return cfg, nil
}

// Run seeds the exchange-rate definitions and any requested demo pools.
// Reruns are safe: existing rates and pools are left untouched.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	rateStore, err := marketsqlite.Open(cfg.MarketDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = rateStore.Close() }()

	for _, def := range market.DefaultDefinitions() {
		if err := rateStore.InitRate(ctx, def); err != nil {
			return fmt.Errorf("seed rate %s: %w", def.ResourceType, err)
		}
		fmt.Fprintf(out, "rate %s base=%v range=[%v,%v]\n", def.ResourceType, def.Base, def.Min, def.Max)
	}

	if len(cfg.DemoOwners) == 0 {
		return nil
	}

	energyStore, err := energysqlite.Open(cfg.EnergyDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = energyStore.Close() }()

	ledger := energy.NewLedger(energyStore)
	for _, ownerID := range cfg.DemoOwners {
		ownerID = strings.TrimSpace(ownerID)
		if ownerID == "" {
			continue
		}
		pool, err := ledger.CreatePool(ctx, ownerID, cfg.DemoCapacity, 1)
		if apperrors.IsCode(err, apperrors.CodeAlreadyExists) {
			fmt.Fprintf(out, "pool %s already exists\n", ownerID)
			continue
		}
		if err != nil {
			return fmt.Errorf("seed pool %s: %w", ownerID, err)
		}
		fmt.Fprintf(out, "pool %s capacity=%d\n", ownerID, pool.Capacity)
	}
	return nil
}

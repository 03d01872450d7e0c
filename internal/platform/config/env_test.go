package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Addr  string        `env:"DUSKSPIRE_TEST_ADDR" envDefault:"localhost:6379"`
	Sweep time.Duration `env:"DUSKSPIRE_TEST_SWEEP" envDefault:"30s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "localhost:6379" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.Sweep != 30*time.Second {
		t.Fatalf("expected default sweep 30s, got %v", cfg.Sweep)
	}
}

func TestParseEnvOverride(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("DUSKSPIRE_TEST_SWEEP", "5m")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Sweep != 5*time.Minute {
		t.Fatalf("expected override 5m, got %v", cfg.Sweep)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("DUSKSPIRE_TEST_SWEEP", "not-a-duration")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

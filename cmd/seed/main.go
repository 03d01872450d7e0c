// Package main provides a CLI for seeding exchange-rate definitions and
// optional demo energy pools into a fresh deployment.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	seedcmd "github.com/emberworks/duskspire/internal/cmd/seed"
	"github.com/emberworks/duskspire/internal/platform/config"
)

func main() {
	cfg, err := seedcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedcmd.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("seed failed: %v", err)
	}
}

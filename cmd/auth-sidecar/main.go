package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ponyhq/pony/internal/config"
	"github.com/ponyhq/pony/internal/logging"
	"github.com/ponyhq/pony/internal/sidecar"
)

func main() {
	configPath := flag.String("c", "sidecar.toml", "Config file path")
	flag.Parse()

	var cfg config.Sidecar
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger("auth-sidecar", cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sidecar.Run(ctx, &cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("sidecar failed")
	}
}

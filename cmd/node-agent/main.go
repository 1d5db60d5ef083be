package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ponyhq/pony/internal/agent"
	"github.com/ponyhq/pony/internal/config"
	"github.com/ponyhq/pony/internal/logging"
)

func main() {
	configPath := flag.String("c", "agent.toml", "Config file path")
	flag.Parse()

	var cfg config.Agent
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger("node-agent", cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx, &cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("agent failed")
	}
}

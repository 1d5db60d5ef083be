package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ponyhq/pony/internal/api"
	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/config"
	"github.com/ponyhq/pony/internal/core"
	"github.com/ponyhq/pony/internal/db"
	"github.com/ponyhq/pony/internal/logging"
	"github.com/ponyhq/pony/internal/metrics"
	"github.com/ponyhq/pony/internal/tsdb"
)

func main() {
	configPath := flag.String("c", "orchestrator.toml", "Config file path")
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	var cfg config.Orchestrator
	if err := config.Load(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger("orchestrator", "", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(ctx, cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	nc, err := nats.Connect(cfg.Bus.URL,
		nats.Name("pony-orchestrator"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer nc.Close()

	var series core.Series
	if cfg.GraphiteURL != "" {
		series = tsdb.NewGraphiteClient(cfg.GraphiteURL)
	} else {
		logger.Warn().Msg("graphite not configured; health and quota sweeps disabled")
	}

	nodeStore := db.NewNodeStore(pool)
	connStore := db.NewConnStore(pool)
	subStore := db.NewSubStore(pool)
	c := cache.New()

	services := core.NewServices(core.Deps{
		Nodes:  nodeStore,
		Conns:  connStore,
		Subs:   subStore,
		Cache:  c,
		Bus:    bus.NewPublisher(nc, cfg.Bus.SubjectPrefix, logger),
		Series: series,
		Logger: logger,
	})
	if err := services.LoadCache(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load cache from store")
	}

	health := core.NewHealthChecker(nodeStore, c, series,
		cfg.HealthInterval.Or(time.Minute), cfg.HealthTimeout.Or(90*time.Second), logger)
	go health.Run(ctx)

	quota := core.NewQuotaEnforcer(connStore, c, series,
		bus.NewPublisher(nc, cfg.Bus.SubjectPrefix, logger),
		cfg.QuotaInterval.Or(5*time.Minute), logger)
	go quota.Run(ctx)

	srv := api.NewServer(logger, services, pool, cfg.Token)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("starting orchestrator API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

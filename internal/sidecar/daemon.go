package sidecar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/apiclient"
	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/config"
	"github.com/ponyhq/pony/internal/metrics"
	"github.com/ponyhq/pony/internal/model"
)

// Run wires up the sidecar and blocks until ctx is cancelled: restore the
// replica from the snapshot, attach to the event bus, ask the orchestrator
// to republish the tail since the snapshot, and serve auth lookups while
// the snapshot loop ticks.
func Run(ctx context.Context, cfg *config.Sidecar, logger zerolog.Logger) error {
	c := cache.New()

	conns, snapTS, err := LoadSnapshot(cfg.SnapshotPath)
	if err != nil {
		// A damaged snapshot costs one full re-fetch, not a crash.
		logger.Warn().Err(err).Msg("snapshot unusable, requesting the full set")
		snapTS = time.Time{}
	}
	for _, conn := range conns {
		c.PutConnection(conn)
	}
	logger.Info().
		Int("connections", len(conns)).
		Time("snapshot_ts", snapTS).
		Msg("replica restored")

	nc, err := nats.Connect(cfg.Bus.URL,
		nats.Name("pony-sidecar"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer nc.Close()

	// Subscribe before requesting the tail so the republished delta batch
	// cannot slip past.
	sub := bus.NewSubscriber(nc, cfg.Bus.SubjectPrefix, logger)
	defer sub.Close()
	tail := NewTail(c, logger)
	if err := sub.Subscribe([]string{cfg.Env, bus.TopicAll}, tail.Handle); err != nil {
		return err
	}

	// The reply arrives over the bus, not in the response body. A zero
	// snapTS asks for the whole set.
	client := apiclient.New(cfg.OrchestratorURL, cfg.Token, logger)
	if _, err := client.Connections(ctx, apiclient.ConnectionsQuery{
		Env:        cfg.Env,
		Proto:      model.TagHysteria2,
		LastUpdate: &snapTS,
	}); err != nil {
		return fmt.Errorf("request tail: %w", err)
	}

	interval := cfg.SnapshotInterval.Or(time.Minute)
	go snapshotLoop(ctx, cfg.SnapshotPath, c, interval, logger)

	authServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: NewServer(c, logger),
	}
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("auth server listening")
		if err := authServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("auth server failed")
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = authServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	// Final snapshot so the next cold start tails from now.
	if err := writeReplicaSnapshot(cfg.SnapshotPath, c); err != nil {
		logger.Warn().Err(err).Msg("final snapshot failed")
	}
	return nil
}

func snapshotLoop(ctx context.Context, path string, c *cache.Cache, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeReplicaSnapshot(path, c); err != nil {
				logger.Warn().Err(err).Msg("snapshot write failed")
			}
		}
	}
}

func writeReplicaSnapshot(path string, c *cache.Cache) error {
	conns := c.Connections(func(conn *model.Connection) bool {
		return conn.Proto.Tag == model.TagHysteria2 && !conn.IsDeleted
	})
	return WriteSnapshot(path, conns, time.Now())
}

package agent

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
	"github.com/ponyhq/pony/internal/tsdb"
)

// Run wires up the node agent and blocks until ctx is cancelled: register
// with the orchestrator, bootstrap the dataplane from a full listing, then
// follow the event bus while the stat and telemetry loops tick.
func Run(ctx context.Context, cfg *config.Agent, logger zerolog.Logger) error {
	node, err := BuildNode(cfg)
	if err != nil {
		return fmt.Errorf("describe node: %w", err)
	}
	logger.Info().
		Str("node_id", node.ID.String()).
		Str("hostname", node.Hostname).
		Int("inbounds", len(node.Inbounds)).
		Msg("node described")

	client := apiclient.New(cfg.OrchestratorURL, cfg.Token, logger)
	if _, err := client.RegisterNode(ctx, node); err != nil {
		// Unregistered nodes receive no events; nothing to do without it.
		return fmt.Errorf("register node: %w", err)
	}

	c := cache.New()
	c.UpsertNode(node)

	xray, err := NewXrayClient(cfg.XrayAPIAddr, logger)
	if err != nil {
		return fmt.Errorf("connect xray api: %w", err)
	}
	defer xray.Close()

	var peers peerManager
	var wgm *WgManager
	if cfg.Wireguard != nil {
		wgm, err = NewWgManager(cfg.Wireguard.Interface, logger)
		if err != nil {
			return fmt.Errorf("open wireguard interface: %w", err)
		}
		defer wgm.Close()
		peers = wgm
	}

	rec := NewReconciler(cfg.Env, node.ID, c, xray, peers, logger)

	conns, err := client.Connections(ctx, apiclient.ConnectionsQuery{Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("bootstrap listing: %w", err)
	}
	if err := rec.Bootstrap(ctx, conns); err != nil {
		return fmt.Errorf("bootstrap dataplane: %w", err)
	}

	nc, err := nats.Connect(cfg.Bus.URL,
		nats.Name("pony-agent-"+node.Hostname),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer nc.Close()

	sub := bus.NewSubscriber(nc, cfg.Bus.SubjectPrefix, logger)
	defer sub.Close()
	topics := []string{cfg.Env, node.ID.String(), bus.TopicAll}
	if err := sub.Subscribe(topics, rec.Handle); err != nil {
		return err
	}

	carbon := tsdb.NewCarbonWriter(cfg.CarbonAddr, logger)
	defer carbon.Close()

	stats := NewStatCollector(node, c, xray, client, carbon, cfg.StatInterval.Or(30*time.Second), logger)
	go stats.Run(ctx)

	telemetry := NewTelemetry(cfg.Env, node.Hostname, node.ID, node.Interface, carbon, cfg.TelemetryInterval.Or(15*time.Second), logger)
	go telemetry.Run(ctx)

	var servers []*http.Server
	if cfg.DebugAddr != "" {
		debug := &http.Server{
			Addr:    cfg.DebugAddr,
			Handler: NewDebugServer(cfg.DebugToken, node, c, logger),
		}
		servers = append(servers, debug)
		go func() {
			logger.Info().Str("addr", cfg.DebugAddr).Msg("debug websocket listening")
			if err := debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("debug server failed")
			}
		}()
	}
	if cfg.MetricsAddr != "" {
		ms := metrics.NewServer(cfg.MetricsAddr)
		servers = append(servers, ms)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	logger.Info().Str("env", cfg.Env).Msg("agent running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

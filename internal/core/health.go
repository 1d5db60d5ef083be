package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
	"github.com/ponyhq/pony/internal/tsdb"
)

// HealthChecker flips nodes between online and offline based on heartbeat
// age. Agents write a heartbeat datapoint on every telemetry tick; a node
// whose newest heartbeat is older than the timeout, or missing entirely, is
// offline. Transitions are persisted but never published: the dataplane
// keeps running whether or not the orchestrator can see the node.
type HealthChecker struct {
	nodes    NodeStorage
	cache    *cache.Cache
	series   Series
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHealthChecker(nodes NodeStorage, c *cache.Cache, series Series, interval, timeout time.Duration, logger zerolog.Logger) *HealthChecker {
	return &HealthChecker{
		nodes:    nodes,
		cache:    c,
		series:   series,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "health").Logger(),
		now:      time.Now,
	}
}

func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep examines every cached node once.
func (h *HealthChecker) Sweep(ctx context.Context) {
	if h.series == nil {
		return
	}
	for _, n := range h.cache.Nodes("") {
		next, err := h.probe(ctx, &n)
		if err != nil {
			h.logger.Warn().Err(err).Str("node_id", n.ID.String()).Msg("heartbeat probe failed")
			continue
		}
		if next == n.Status {
			continue
		}
		if !h.cache.SetNodeStatus(n.Key(), next) {
			continue
		}
		if err := h.nodes.SetStatus(ctx, n.Key(), next, h.now()); err != nil {
			h.logger.Error().Err(err).Str("node_id", n.ID.String()).Msg("persist node status")
			continue
		}
		h.logger.Info().
			Str("node_id", n.ID.String()).
			Str("env", n.Env).
			Str("status", string(next)).
			Msg("node status changed")
	}
}

func (h *HealthChecker) probe(ctx context.Context, n *model.Node) (model.NodeStatus, error) {
	path := fmt.Sprintf("%s.%s.%s.heartbeat", n.Env, n.Hostname, n.ID)
	_, ts, err := h.series.Latest(ctx, path, 2*h.timeout)
	if errors.Is(err, tsdb.ErrNoData) {
		return model.NodeOffline, nil
	}
	if err != nil {
		return "", err
	}
	if h.now().Sub(ts) > h.timeout {
		return model.NodeOffline, nil
	}
	return model.NodeOnline, nil
}

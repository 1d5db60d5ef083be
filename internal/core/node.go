package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

// NodeService handles node registration and the score query.
type NodeService struct {
	store  NodeStorage
	cache  *cache.Cache
	series Series
	logger zerolog.Logger
	now    func() time.Time
}

// Register upserts a node announced by its agent. Registration is idempotent
// and always marks the node online; the health sweep takes over from there.
func (s *NodeService) Register(ctx context.Context, n *model.Node) (model.OpStatus, error) {
	if n.ID == uuid.Nil {
		return model.BadRequest(uuid.Nil, "node id is required"), nil
	}
	if n.Env == "" || len(n.Env) > 50 {
		return model.BadRequest(n.ID, "env is required and must be at most 50 characters"), nil
	}
	if n.Hostname == "" {
		return model.BadRequest(n.ID, "hostname is required"), nil
	}

	now := s.now()
	n.Status = model.NodeOnline
	n.ModifiedAt = now
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	inserted, err := s.store.Upsert(ctx, n)
	if err != nil {
		return model.OpStatus{}, err
	}
	s.cache.UpsertNode(n)

	s.logger.Info().
		Str("node_id", n.ID.String()).
		Str("env", n.Env).
		Str("hostname", n.Hostname).
		Bool("new", inserted).
		Msg("node registered")

	if inserted {
		return model.Ok(n.ID), nil
	}
	return model.Updated(n.ID), nil
}

// Get returns a node from the cache.
func (s *NodeService) Get(env string, id uuid.UUID) (*model.Node, bool) {
	return s.cache.Node(env, id)
}

// List returns the cached nodes, filtered by env when non-empty.
func (s *NodeService) List(env string) []model.Node {
	return s.cache.Nodes(env)
}

const (
	scoreWeightCPU  = 0.35
	scoreWeightLoad = 0.25
	scoreWeightMem  = 0.25
	scoreWeightTx   = 0.15

	scoreLookback = 5 * time.Minute
)

// Score computes the composite utilization score of a node from its most
// recent telemetry. Any missing series is an error: a node without fresh
// telemetry has no meaningful score.
func (s *NodeService) Score(ctx context.Context, env string, id uuid.UUID) (float64, error) {
	n, ok := s.cache.Node(env, id)
	if !ok {
		return 0, ErrNodeNotFound
	}
	if s.series == nil {
		return 0, fmt.Errorf("score node %s: no metric store configured", id)
	}

	prefix := fmt.Sprintf("%s.%s", n.Env, n.Hostname)

	cpuPct, _, err := s.series.Latest(ctx, fmt.Sprintf("averageSeries(%s.cpu_usage.*.percentage)", prefix), scoreLookback)
	if err != nil {
		return 0, fmt.Errorf("score node %s: cpu: %w", id, err)
	}

	loadAvg, _, err := s.series.Latest(ctx, prefix+".loadavg.1m", scoreLookback)
	if err != nil {
		return 0, fmt.Errorf("score node %s: loadavg: %w", id, err)
	}

	memUsed, _, err := s.series.Latest(ctx, prefix+".mem.used", scoreLookback)
	if err != nil {
		return 0, fmt.Errorf("score node %s: mem used: %w", id, err)
	}
	memTotal, _, err := s.series.Latest(ctx, prefix+".mem.total", scoreLookback)
	if err != nil {
		return 0, fmt.Errorf("score node %s: mem total: %w", id, err)
	}

	txBps, _, err := s.series.Latest(ctx, fmt.Sprintf("sumSeries(%s.network.*.tx_bps)", prefix), scoreLookback)
	if err != nil {
		return 0, fmt.Errorf("score node %s: tx: %w", id, err)
	}

	cores := n.Cores
	if cores < 1 {
		cores = 1
	}
	var mem float64
	if memTotal > 0 {
		mem = memUsed / memTotal
	}
	var tx float64
	if n.MaxBandwidthBps > 0 {
		tx = txBps / float64(n.MaxBandwidthBps)
	}

	score := scoreWeightCPU*clamp01(cpuPct/100) +
		scoreWeightLoad*clamp01(loadAvg/float64(cores)) +
		scoreWeightMem*clamp01(mem) +
		scoreWeightTx*clamp01(tx)
	return score, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Package core implements the orchestrator's business logic: the write
// pipeline (validate, persist, cache, publish), WireGuard placement, the
// node health sweep and the trial quota sweep.
package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/db"
	"github.com/ponyhq/pony/internal/model"
)

// ErrNodeNotFound reports a score or status query against an unknown node.
var ErrNodeNotFound = errors.New("node not found")

// NodeStorage is the durable side of the node write pipeline.
type NodeStorage interface {
	Upsert(ctx context.Context, n *model.Node) (bool, error)
	List(ctx context.Context, env string) ([]*model.Node, error)
	SetStatus(ctx context.Context, key model.NodeKey, status model.NodeStatus, modifiedAt time.Time) error
}

// ConnStorage is the durable side of the connection write pipeline.
type ConnStorage interface {
	Insert(ctx context.Context, c *model.Connection) error
	Update(ctx context.Context, c *model.Connection) error
	List(ctx context.Context, f db.ConnFilter) ([]*model.Connection, error)
	SetStat(ctx context.Context, id uuid.UUID, stat model.ConnectionStat) error
	SetStatus(ctx context.Context, id uuid.UUID, status model.ConnectionStatus, modifiedAt time.Time) error
}

// SubStorage is the durable side of the subscription write pipeline.
type SubStorage interface {
	Upsert(ctx context.Context, sub *model.Subscription) error
	List(ctx context.Context) ([]*model.Subscription, error)
}

// Series reads back telemetry from the metric store.
type Series interface {
	Latest(ctx context.Context, path string, lookback time.Duration) (float64, time.Time, error)
	SumSince(ctx context.Context, path string, since time.Time) (float64, error)
}

// EventPublisher fans connection lifecycle events out to the agents and the
// auth sidecar.
type EventPublisher interface {
	Publish(topic string, msgs []bus.Message)
}

// Deps collects everything the services need.
type Deps struct {
	Nodes  NodeStorage
	Conns  ConnStorage
	Subs   SubStorage
	Cache  *cache.Cache
	Bus    EventPublisher
	Series Series
	Logger zerolog.Logger
}

// Services bundles the orchestrator's request-scoped services.
type Services struct {
	Nodes         *NodeService
	Connections   *ConnectionService
	Subscriptions *SubscriptionService

	deps Deps
}

func NewServices(deps Deps) *Services {
	now := time.Now
	return &Services{
		Nodes: &NodeService{
			store:  deps.Nodes,
			cache:  deps.Cache,
			series: deps.Series,
			logger: deps.Logger.With().Str("service", "node").Logger(),
			now:    now,
		},
		Connections: &ConnectionService{
			store:   deps.Conns,
			cache:   deps.Cache,
			pub:     deps.Bus,
			logger:  deps.Logger.With().Str("service", "connection").Logger(),
			now:     now,
			pick:    rand.IntN,
			genKeys: generateWgKeys,
		},
		Subscriptions: &SubscriptionService{
			store:  deps.Subs,
			cache:  deps.Cache,
			logger: deps.Logger.With().Str("service", "subscription").Logger(),
			now:    now,
		},
		deps: deps,
	}
}

// LoadCache warms the in-memory view from the store. Called once on startup
// before the API starts serving.
func (s *Services) LoadCache(ctx context.Context) error {
	nodes, err := s.deps.Nodes.List(ctx, "")
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	for _, n := range nodes {
		s.deps.Cache.UpsertNode(n)
	}

	subs, err := s.deps.Subs.List(ctx)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	for _, sub := range subs {
		s.deps.Cache.UpsertSubscription(sub)
	}

	conns, err := s.deps.Conns.List(ctx, db.ConnFilter{})
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}
	for _, c := range conns {
		s.deps.Cache.ReplaceConnection(c)
	}

	s.deps.Logger.Info().
		Int("nodes", len(nodes)).
		Int("connections", len(conns)).
		Int("subscriptions", len(subs)).
		Msg("cache loaded")
	return nil
}

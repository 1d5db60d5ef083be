package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/db"
	"github.com/ponyhq/pony/internal/model"
	"github.com/ponyhq/pony/internal/tsdb"
)

func errNoData() error { return tsdb.ErrNoData }

type mockNodeStorage struct {
	mock.Mock
}

func (m *mockNodeStorage) Upsert(ctx context.Context, n *model.Node) (bool, error) {
	args := m.Called(ctx, n)
	return args.Bool(0), args.Error(1)
}

func (m *mockNodeStorage) List(ctx context.Context, env string) ([]*model.Node, error) {
	args := m.Called(ctx, env)
	nodes, _ := args.Get(0).([]*model.Node)
	return nodes, args.Error(1)
}

func (m *mockNodeStorage) SetStatus(ctx context.Context, key model.NodeKey, status model.NodeStatus, modifiedAt time.Time) error {
	args := m.Called(ctx, key, status, modifiedAt)
	return args.Error(0)
}

type mockConnStorage struct {
	mock.Mock
}

func (m *mockConnStorage) Insert(ctx context.Context, c *model.Connection) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockConnStorage) Update(ctx context.Context, c *model.Connection) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockConnStorage) List(ctx context.Context, f db.ConnFilter) ([]*model.Connection, error) {
	args := m.Called(ctx, f)
	conns, _ := args.Get(0).([]*model.Connection)
	return conns, args.Error(1)
}

func (m *mockConnStorage) SetStat(ctx context.Context, id uuid.UUID, stat model.ConnectionStat) error {
	args := m.Called(ctx, id, stat)
	return args.Error(0)
}

func (m *mockConnStorage) SetStatus(ctx context.Context, id uuid.UUID, status model.ConnectionStatus, modifiedAt time.Time) error {
	args := m.Called(ctx, id, status, modifiedAt)
	return args.Error(0)
}

type mockSubStorage struct {
	mock.Mock
}

func (m *mockSubStorage) Upsert(ctx context.Context, sub *model.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockSubStorage) List(ctx context.Context) ([]*model.Subscription, error) {
	args := m.Called(ctx)
	subs, _ := args.Get(0).([]*model.Subscription)
	return subs, args.Error(1)
}

// fakeSeries answers Latest and SumSince from canned values keyed by path.
type fakeSeries struct {
	mu      sync.Mutex
	latest  map[string]seriesPoint
	sums    map[string]float64
	err     error
	queried []string
}

type seriesPoint struct {
	value float64
	ts    time.Time
}

func newFakeSeries() *fakeSeries {
	return &fakeSeries{
		latest: make(map[string]seriesPoint),
		sums:   make(map[string]float64),
	}
}

func (f *fakeSeries) Latest(_ context.Context, path string, _ time.Duration) (float64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, path)
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	p, ok := f.latest[path]
	if !ok {
		return 0, time.Time{}, errNoData()
	}
	return p.value, p.ts, nil
}

func (f *fakeSeries) SumSince(_ context.Context, path string, _ time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, path)
	if f.err != nil {
		return 0, f.err
	}
	sum, ok := f.sums[path]
	if !ok {
		return 0, errNoData()
	}
	return sum, nil
}

// capturePublisher records every published batch.
type capturePublisher struct {
	mu      sync.Mutex
	batches []publishedBatch
}

type publishedBatch struct {
	topic string
	msgs  []bus.Message
}

func (p *capturePublisher) Publish(topic string, msgs []bus.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, publishedBatch{topic: topic, msgs: msgs})
}

func (p *capturePublisher) all() []publishedBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedBatch(nil), p.batches...)
}

func newTestConnService(store ConnStorage, c *cache.Cache, pub EventPublisher) *ConnectionService {
	return &ConnectionService{
		store:  store,
		cache:  c,
		pub:    pub,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		pick:   func(int) int { return 0 },
		genKeys: func() (model.WgKeys, error) {
			return model.WgKeys{Privkey: "test-priv", Pubkey: "test-pub"}, nil
		},
	}
}

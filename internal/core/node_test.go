package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

func newTestNodeService(store NodeStorage, c *cache.Cache, series Series, now time.Time) *NodeService {
	return &NodeService{
		store:  store,
		cache:  c,
		series: series,
		logger: zerolog.Nop(),
		now:    func() time.Time { return now },
	}
}

func TestRegisterNodeIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &mockNodeStorage{}
	store.On("Upsert", mock.Anything, mock.Anything).Return(true, nil).Once()
	store.On("Upsert", mock.Anything, mock.Anything).Return(false, nil).Once()
	c := cache.New()
	svc := newTestNodeService(store, c, nil, now)

	n := wgTestNode("dev", "10.0.0.1/24")
	n.Status = model.NodeOffline

	st, err := svc.Register(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.OpOk, st.Kind)

	got, ok := c.Node("dev", n.ID)
	require.True(t, ok)
	assert.Equal(t, model.NodeOnline, got.Status)
	assert.Equal(t, now, got.ModifiedAt)

	st, err = svc.Register(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.OpUpdated, st.Kind)
	store.AssertExpectations(t)
}

func TestRegisterNodeValidation(t *testing.T) {
	svc := newTestNodeService(&mockNodeStorage{}, cache.New(), nil, time.Now())

	st, err := svc.Register(context.Background(), &model.Node{Env: "dev", Hostname: "h"})
	require.NoError(t, err)
	assert.Equal(t, model.OpBadRequest, st.Kind)

	st, err = svc.Register(context.Background(), &model.Node{ID: uuid.New(), Hostname: "h"})
	require.NoError(t, err)
	assert.Equal(t, model.OpBadRequest, st.Kind)

	st, err = svc.Register(context.Background(), &model.Node{ID: uuid.New(), Env: "dev"})
	require.NoError(t, err)
	assert.Equal(t, model.OpBadRequest, st.Kind)
}

func TestNodeScore(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	n := wgTestNode("dev", "10.0.0.1/24")
	n.Cores = 4
	n.MaxBandwidthBps = 1_000_000_000
	c.UpsertNode(n)

	prefix := fmt.Sprintf("%s.%s", n.Env, n.Hostname)
	series := newFakeSeries()
	series.latest[fmt.Sprintf("averageSeries(%s.cpu_usage.*.percentage)", prefix)] = seriesPoint{value: 50, ts: now}
	series.latest[prefix+".loadavg.1m"] = seriesPoint{value: 2, ts: now}
	series.latest[prefix+".mem.used"] = seriesPoint{value: 4, ts: now}
	series.latest[prefix+".mem.total"] = seriesPoint{value: 8, ts: now}
	series.latest[fmt.Sprintf("sumSeries(%s.network.*.tx_bps)", prefix)] = seriesPoint{value: 500_000_000, ts: now}

	svc := newTestNodeService(&mockNodeStorage{}, c, series, now)
	score, err := svc.Score(context.Background(), "dev", n.ID)
	require.NoError(t, err)
	// 0.35*0.5 + 0.25*0.5 + 0.25*0.5 + 0.15*0.5
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestNodeScoreMissingSeries(t *testing.T) {
	now := time.Now()
	c := cache.New()
	n := wgTestNode("dev", "10.0.0.1/24")
	c.UpsertNode(n)

	svc := newTestNodeService(&mockNodeStorage{}, c, newFakeSeries(), now)
	_, err := svc.Score(context.Background(), "dev", n.ID)
	assert.Error(t, err)
}

func TestNodeScoreUnknownNode(t *testing.T) {
	svc := newTestNodeService(&mockNodeStorage{}, cache.New(), newFakeSeries(), time.Now())
	_, err := svc.Score(context.Background(), "dev", uuid.New())
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

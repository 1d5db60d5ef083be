package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

func newTestHealthChecker(nodes NodeStorage, c *cache.Cache, series Series, now time.Time) *HealthChecker {
	h := NewHealthChecker(nodes, c, series, time.Minute, 90*time.Second, zerolog.Nop())
	h.now = func() time.Time { return now }
	return h
}

func heartbeatPath(n *model.Node) string {
	return fmt.Sprintf("%s.%s.%s.heartbeat", n.Env, n.Hostname, n.ID)
}

func TestHealthSweepMarksOffline(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	n := wgTestNode("dev", "10.0.0.1/24")
	n.Status = model.NodeOnline
	c.UpsertNode(n)

	series := newFakeSeries()
	series.latest[heartbeatPath(n)] = seriesPoint{value: 1, ts: now.Add(-2 * time.Minute)}

	store := &mockNodeStorage{}
	store.On("SetStatus", mock.Anything, n.Key(), model.NodeOffline, now).Return(nil)

	newTestHealthChecker(store, c, series, now).Sweep(context.Background())

	got, ok := c.Node("dev", n.ID)
	require.True(t, ok)
	assert.Equal(t, model.NodeOffline, got.Status)
	store.AssertExpectations(t)
}

func TestHealthSweepFreshHeartbeatStaysOnline(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	n := wgTestNode("dev", "10.0.0.1/24")
	n.Status = model.NodeOnline
	c.UpsertNode(n)

	series := newFakeSeries()
	series.latest[heartbeatPath(n)] = seriesPoint{value: 1, ts: now.Add(-10 * time.Second)}

	store := &mockNodeStorage{}
	newTestHealthChecker(store, c, series, now).Sweep(context.Background())

	got, _ := c.Node("dev", n.ID)
	assert.Equal(t, model.NodeOnline, got.Status)
	store.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHealthSweepMissingHeartbeatIsOffline(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	n := wgTestNode("dev", "10.0.0.1/24")
	n.Status = model.NodeOnline
	c.UpsertNode(n)

	store := &mockNodeStorage{}
	store.On("SetStatus", mock.Anything, n.Key(), model.NodeOffline, now).Return(nil)

	newTestHealthChecker(store, c, newFakeSeries(), now).Sweep(context.Background())

	got, _ := c.Node("dev", n.ID)
	assert.Equal(t, model.NodeOffline, got.Status)
	store.AssertExpectations(t)
}

func TestHealthSweepRecovery(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	n := wgTestNode("dev", "10.0.0.1/24")
	n.Status = model.NodeOffline
	c.UpsertNode(n)

	series := newFakeSeries()
	series.latest[heartbeatPath(n)] = seriesPoint{value: 1, ts: now.Add(-5 * time.Second)}

	store := &mockNodeStorage{}
	store.On("SetStatus", mock.Anything, n.Key(), model.NodeOnline, now).Return(nil)

	newTestHealthChecker(store, c, series, now).Sweep(context.Background())

	got, _ := c.Node("dev", n.ID)
	assert.Equal(t, model.NodeOnline, got.Status)
	store.AssertExpectations(t)
}

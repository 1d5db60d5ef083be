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

	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

func newTestQuotaEnforcer(conns ConnStorage, c *cache.Cache, series Series, pub EventPublisher, now time.Time) *QuotaEnforcer {
	q := NewQuotaEnforcer(conns, c, series, pub, 5*time.Minute, zerolog.Nop())
	q.now = func() time.Time { return now }
	return q
}

func trialConn(now time.Time) *model.Connection {
	return &model.Connection{
		ID:           uuid.UUID{1},
		Env:          "dev",
		Proto:        model.Hysteria2Proto("tok-1"),
		IsTrial:      true,
		DailyLimitMB: 100,
		Status:       model.ConnActive,
		CreatedAt:    now.Add(-48 * time.Hour),
		ModifiedAt:   now.Add(-12 * time.Hour),
	}
}

func quotaPath(c *model.Connection) string {
	return fmt.Sprintf("%s.*.%s.conn_stat.uplink", c.Env, c.ID)
}

func TestQuotaSweepExpiresOverLimitTrial(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	conn := trialConn(now)
	c.ReplaceConnection(conn)

	series := newFakeSeries()
	series.sums[quotaPath(conn)] = 200 << 20 // 200 MB against a 100 MB limit

	store := &mockConnStorage{}
	store.On("SetStatus", mock.Anything, conn.ID, model.ConnExpired, now).Return(nil)
	pub := &capturePublisher{}

	newTestQuotaEnforcer(store, c, series, pub, now).Sweep(context.Background())

	got, ok := c.Connection(conn.ID)
	require.True(t, ok)
	assert.Equal(t, model.ConnExpired, got.Status)

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Equal(t, bus.ActionDelete, batches[0].msgs[0].Action)
	store.AssertExpectations(t)
}

func TestQuotaSweepUnderLimitUntouched(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	conn := trialConn(now)
	c.ReplaceConnection(conn)

	series := newFakeSeries()
	series.sums[quotaPath(conn)] = 10 << 20

	store := &mockConnStorage{}
	pub := &capturePublisher{}
	newTestQuotaEnforcer(store, c, series, pub, now).Sweep(context.Background())

	got, _ := c.Connection(conn.ID)
	assert.Equal(t, model.ConnActive, got.Status)
	assert.Empty(t, pub.all())
	store.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQuotaSweepNoDataUntouched(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	conn := trialConn(now)
	c.ReplaceConnection(conn)

	pub := &capturePublisher{}
	newTestQuotaEnforcer(&mockConnStorage{}, c, newFakeSeries(), pub, now).Sweep(context.Background())

	got, _ := c.Connection(conn.ID)
	assert.Equal(t, model.ConnActive, got.Status)
	assert.Empty(t, pub.all())
}

func TestQuotaSweepReactivatesAfterCooldown(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	conn := trialConn(now)
	conn.Status = model.ConnExpired
	conn.ModifiedAt = now.Add(-25 * time.Hour)
	c.ReplaceConnection(conn)

	store := &mockConnStorage{}
	store.On("SetStatus", mock.Anything, conn.ID, model.ConnActive, now).Return(nil)
	pub := &capturePublisher{}

	newTestQuotaEnforcer(store, c, newFakeSeries(), pub, now).Sweep(context.Background())

	got, _ := c.Connection(conn.ID)
	assert.Equal(t, model.ConnActive, got.Status)

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Equal(t, bus.ActionCreate, batches[0].msgs[0].Action)
	store.AssertExpectations(t)
}

func TestQuotaSweepExpiredInsideCooldownWaits(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	conn := trialConn(now)
	conn.Status = model.ConnExpired
	conn.ModifiedAt = now.Add(-2 * time.Hour)
	c.ReplaceConnection(conn)

	pub := &capturePublisher{}
	newTestQuotaEnforcer(&mockConnStorage{}, c, newFakeSeries(), pub, now).Sweep(context.Background())

	got, _ := c.Connection(conn.ID)
	assert.Equal(t, model.ConnExpired, got.Status)
	assert.Empty(t, pub.all())
}

package core

import (
	"context"
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

func newTestSubService(store SubStorage, c *cache.Cache, now time.Time) *SubscriptionService {
	return &SubscriptionService{
		store:  store,
		cache:  c,
		logger: zerolog.Nop(),
		now:    func() time.Time { return now },
	}
}

func TestSubscriptionUpsertGeneratesReferralCode(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &mockSubStorage{}
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	svc := newTestSubService(store, cache.New(), now)

	sub := &model.Subscription{ExpiresAt: now.Add(30 * 24 * time.Hour)}
	st, err := svc.Upsert(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, model.OpOk, st.Kind)
	require.NotNil(t, sub.ReferralCode)
	assert.Len(t, *sub.ReferralCode, 12)

	// Second upsert of the same id reports an update.
	st, err = svc.Upsert(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, model.OpUpdated, st.Kind)
}

func TestSubscriptionReferralCredit(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &mockSubStorage{}
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	c := cache.New()
	svc := newTestSubService(store, c, now)

	referrer := &model.Subscription{ExpiresAt: now.Add(10 * 24 * time.Hour)}
	_, err := svc.Upsert(context.Background(), referrer)
	require.NoError(t, err)

	referred := &model.Subscription{
		ExpiresAt:  now.Add(30 * 24 * time.Hour),
		ReferredBy: &referrer.ID,
	}
	_, err = svc.Upsert(context.Background(), referred)
	require.NoError(t, err)

	got, ok := c.Subscription(referrer.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.ReferralCount)
	assert.Equal(t, referralBonusDays, got.ReferralBonusDays)
	assert.Equal(t, now.Add(17*24*time.Hour), got.ExpiresAt)
}

func TestSubscriptionStatAggregates(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := cache.New()
	svc := newTestSubService(&mockSubStorage{}, c, now)

	sub := &model.Subscription{ID: uuid.New(), ExpiresAt: now.Add(time.Hour)}
	c.UpsertSubscription(sub)

	for i, stat := range []model.ConnectionStat{
		{Uplink: 100, Downlink: 10, Online: 1},
		{Uplink: 50, Downlink: 5, Online: 2},
	} {
		c.ReplaceConnection(&model.Connection{
			ID:             uuid.UUID{byte(i + 1)},
			Env:            "dev",
			SubscriptionID: &sub.ID,
			Proto:          model.XrayProto(model.TagVmess),
			Stat:           stat,
			Status:         model.ConnActive,
		})
	}
	// Deleted connections do not count.
	c.ReplaceConnection(&model.Connection{
		ID:             uuid.UUID{9},
		Env:            "dev",
		SubscriptionID: &sub.ID,
		Proto:          model.XrayProto(model.TagVmess),
		Stat:           model.ConnectionStat{Uplink: 999},
		IsDeleted:      true,
	})

	stat, ok := svc.Stat(sub.ID)
	require.True(t, ok)
	assert.True(t, stat.Active)
	assert.Equal(t, 2, stat.Connections)
	assert.Equal(t, uint64(150), stat.Stat.Uplink)
	assert.Equal(t, uint64(15), stat.Stat.Downlink)
	assert.Equal(t, uint64(3), stat.Stat.Online)

	_, ok = svc.Stat(uuid.New())
	assert.False(t, ok)
}

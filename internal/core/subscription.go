package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

// referralBonusDays is credited to the referrer each time one of their
// referral codes is redeemed.
const referralBonusDays = 7

// SubscriptionService manages subscriptions and their referral graph.
type SubscriptionService struct {
	store  SubStorage
	cache  *cache.Cache
	logger zerolog.Logger
	now    func() time.Time
}

// Upsert creates or updates a subscription. New subscriptions get a referral
// code; redeeming someone else's code credits the referrer with bonus days.
func (s *SubscriptionService) Upsert(ctx context.Context, sub *model.Subscription) (model.OpStatus, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := s.now()
	_, existed := s.cache.Subscription(sub.ID)

	sub.UpdatedAt = now
	if !existed {
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
		if sub.ReferralCode == nil {
			code, err := newReferralCode()
			if err != nil {
				return model.OpStatus{}, err
			}
			sub.ReferralCode = &code
		}
		if sub.ReferredBy != nil {
			if err := s.creditReferrer(ctx, *sub.ReferredBy); err != nil {
				return model.OpStatus{}, err
			}
		}
	}

	if err := s.store.Upsert(ctx, sub); err != nil {
		return model.OpStatus{}, err
	}
	s.cache.UpsertSubscription(sub)

	if existed {
		return model.Updated(sub.ID), nil
	}
	return model.Ok(sub.ID), nil
}

func (s *SubscriptionService) creditReferrer(ctx context.Context, id uuid.UUID) error {
	ref, ok := s.cache.Subscription(id)
	if !ok {
		// Dangling referrer ids are tolerated; the redeem path validates
		// codes before they get here.
		s.logger.Warn().Str("subscription_id", id.String()).Msg("unknown referrer")
		return nil
	}
	ref.ReferralCount++
	ref.ReferralBonusDays += referralBonusDays
	ref.ExpiresAt = ref.ExpiresAt.Add(referralBonusDays * 24 * time.Hour)
	ref.UpdatedAt = s.now()
	if err := s.store.Upsert(ctx, ref); err != nil {
		return err
	}
	s.cache.UpsertSubscription(ref)
	return nil
}

// Get returns a subscription from the cache.
func (s *SubscriptionService) Get(id uuid.UUID) (*model.Subscription, bool) {
	return s.cache.Subscription(id)
}

// SubscriptionStat is the aggregate usage of a subscription's connections.
type SubscriptionStat struct {
	ID          uuid.UUID            `json:"id"`
	Active      bool                 `json:"active"`
	ExpiresAt   time.Time            `json:"expires_at"`
	Connections int                  `json:"connections"`
	Stat        model.ConnectionStat `json:"stat"`
}

// Stat aggregates the live connections of a subscription.
func (s *SubscriptionService) Stat(id uuid.UUID) (SubscriptionStat, bool) {
	sub, ok := s.cache.Subscription(id)
	if !ok {
		return SubscriptionStat{}, false
	}

	out := SubscriptionStat{
		ID:        sub.ID,
		Active:    sub.IsActive(s.now()),
		ExpiresAt: sub.ExpiresAt,
	}
	for _, c := range s.cache.Connections(func(c *model.Connection) bool {
		return !c.IsDeleted && c.SubscriptionID != nil && *c.SubscriptionID == id
	}) {
		out.Connections++
		out.Stat.Uplink += c.Stat.Uplink
		out.Stat.Downlink += c.Stat.Downlink
		out.Stat.Online += c.Stat.Online
	}
	return out, true
}

func newReferralCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

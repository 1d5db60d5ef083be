package model

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is a time-bounded owner grouping connections.
type Subscription struct {
	ID                uuid.UUID  `json:"id"`
	ExpiresAt         time.Time  `json:"expires_at"`
	ReferralCode      *string    `json:"referral_code,omitempty"` // 12 hex chars
	ReferredBy        *uuid.UUID `json:"referred_by,omitempty"`
	ReferralCount     int        `json:"referral_count"`
	ReferralBonusDays int        `json:"referral_bonus_days"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	IsDeleted         bool       `json:"is_deleted"`
}

func (s *Subscription) IsActive(now time.Time) bool {
	return !s.IsDeleted && s.ExpiresAt.After(now)
}

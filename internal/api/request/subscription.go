package request

import (
	"time"

	"github.com/google/uuid"
)

// UpsertSubscription creates or renews a subscription.
type UpsertSubscription struct {
	ID         *uuid.UUID `json:"id"`
	ExpiresAt  time.Time  `json:"expires_at" validate:"required"`
	ReferredBy *uuid.UUID `json:"referred_by"`
}

package request

import (
	"time"

	"github.com/google/uuid"

	"github.com/ponyhq/pony/internal/model"
)

// CreateConnection provisions a new credential. A nil ID asks the
// orchestrator to assign one.
type CreateConnection struct {
	ID             *uuid.UUID     `json:"id"`
	Env            string         `json:"env" validate:"required,max=50"`
	SubscriptionID *uuid.UUID     `json:"subscription_id"`
	UserID         *int64         `json:"user_id"`
	Proto          string         `json:"proto" validate:"required,prototag"`
	Password       string         `json:"password"`
	NodeID         *uuid.UUID     `json:"node_id"`
	Wg             *model.WgParam `json:"wg"`
	Hysteria2Token string         `json:"hysteria2_token"`
	IsTrial        bool           `json:"is_trial"`
	DailyLimitMB   int            `json:"daily_limit_mb" validate:"min=0"`
	ExpiredAt      *time.Time     `json:"expired_at"`
}

// UpdateConnection mutates an existing connection; nil fields are left
// untouched. Stat is the agent's counter push and combines with nothing.
type UpdateConnection struct {
	Password       *string               `json:"password"`
	SubscriptionID *uuid.UUID            `json:"subscription_id"`
	UserID         *int64                `json:"user_id"`
	IsTrial        *bool                 `json:"is_trial"`
	DailyLimitMB   *int                  `json:"daily_limit_mb"`
	ExpiredAt      *time.Time            `json:"expired_at"`
	Status         *string               `json:"status" validate:"omitempty,oneof=active expired"`
	IsDeleted      *bool                 `json:"is_deleted"`
	Stat           *model.ConnectionStat `json:"stat"`
}

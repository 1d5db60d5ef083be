package model

import (
	"time"

	"github.com/google/uuid"
)

type ConnectionStatus string

const (
	ConnActive  ConnectionStatus = "active"
	ConnExpired ConnectionStatus = "expired"
)

// EmailSuffix is appended to a connection id to form the Xray account email.
const EmailSuffix = "@pony"

type ConnectionStat struct {
	Uplink   uint64 `json:"uplink"`
	Downlink uint64 `json:"downlink"`
	Online   uint64 `json:"online"`
}

// Connection is a provisioned user credential bound to a protocol.
type Connection struct {
	ID             uuid.UUID        `json:"id"`
	Env            string           `json:"env"`
	SubscriptionID *uuid.UUID       `json:"subscription_id,omitempty"`
	UserID         *int64           `json:"user_id,omitempty"`
	Proto          Proto            `json:"proto"`
	Stat           ConnectionStat   `json:"stat"`
	IsTrial        bool             `json:"is_trial"`
	DailyLimitMB   int              `json:"daily_limit_mb,omitempty"`
	Status         ConnectionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	ModifiedAt     time.Time        `json:"modified_at"`
	ExpiredAt      *time.Time       `json:"expired_at,omitempty"`
	IsDeleted      bool             `json:"is_deleted"`
}

// Email returns the dataplane account email for this connection.
func (c *Connection) Email() string {
	return c.ID.String() + EmailSuffix
}

// Clone returns a deep copy; callers mutate copies, never cache entries.
func (c *Connection) Clone() *Connection {
	cp := *c
	if c.SubscriptionID != nil {
		sid := *c.SubscriptionID
		cp.SubscriptionID = &sid
	}
	if c.UserID != nil {
		uid := *c.UserID
		cp.UserID = &uid
	}
	if c.ExpiredAt != nil {
		exp := *c.ExpiredAt
		cp.ExpiredAt = &exp
	}
	if c.Proto.Wg != nil {
		wg := *c.Proto.Wg
		cp.Proto.Wg = &wg
	}
	return &cp
}

// Equal compares everything a caller can mutate through the update API.
// Stat and timestamps are excluded: they change on their own schedule.
func (c *Connection) Equal(o *Connection) bool {
	if c.ID != o.ID || c.Env != o.Env || c.IsDeleted != o.IsDeleted ||
		c.IsTrial != o.IsTrial || c.DailyLimitMB != o.DailyLimitMB ||
		c.Status != o.Status {
		return false
	}
	if !equalPtr(c.SubscriptionID, o.SubscriptionID) || !equalPtr(c.UserID, o.UserID) {
		return false
	}
	if (c.ExpiredAt == nil) != (o.ExpiredAt == nil) {
		return false
	}
	if c.ExpiredAt != nil && !c.ExpiredAt.Equal(*o.ExpiredAt) {
		return false
	}
	return c.Proto.Equal(o.Proto)
}

func (p Proto) Equal(o Proto) bool {
	if p.Tag != o.Tag || p.Password != o.Password ||
		p.NodeID != o.NodeID || p.Hysteria2Token != o.Hysteria2Token {
		return false
	}
	if (p.Wg == nil) != (o.Wg == nil) {
		return false
	}
	if p.Wg != nil && *p.Wg != *o.Wg {
		return false
	}
	return true
}

func equalPtr[T comparable](a, b *T) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

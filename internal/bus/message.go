package bus

import (
	"github.com/google/uuid"

	"github.com/ponyhq/pony/internal/model"
)

// Topic names the first routing frame of a published batch.
const TopicAll = "all"

// Action is a connection lifecycle verb carried on the wire.
type Action uint8

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
	ActionResetStat
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionResetStat:
		return "reset_stat"
	}
	return "unknown"
}

// Message is one connection lifecycle event. Batches of these form the
// second frame of every published event, encoded by this package's codec.
// Field keys are integers to keep the archived layout stable and compact.
type Message struct {
	ConnID         uuid.UUID      `cbor:"1,keyasint"`
	Action         Action         `cbor:"2,keyasint"`
	Tag            model.ProtoTag `cbor:"3,keyasint"`
	Password       string         `cbor:"4,keyasint,omitempty"`
	WgParam        *model.WgParam `cbor:"5,keyasint,omitempty"`
	Hysteria2Token string         `cbor:"6,keyasint,omitempty"`
	ExpiresAt      *int64         `cbor:"7,keyasint,omitempty"`
	SubscriptionID *uuid.UUID     `cbor:"8,keyasint,omitempty"`
}

// FromConnection builds the wire message announcing action on conn.
func FromConnection(action Action, conn *model.Connection) Message {
	m := Message{
		ConnID:         conn.ID,
		Action:         action,
		Tag:            conn.Proto.Tag,
		Password:       conn.Proto.Password,
		WgParam:        conn.Proto.Wg,
		Hysteria2Token: conn.Proto.Hysteria2Token,
		SubscriptionID: conn.SubscriptionID,
	}
	if conn.ExpiredAt != nil {
		ts := conn.ExpiredAt.Unix()
		m.ExpiresAt = &ts
	}
	return m
}

// TopicFor returns the routing topic for a connection event: WireGuard
// peers bind to one node, everything else is served by any node in the env.
func TopicFor(conn *model.Connection) string {
	if conn.Proto.Tag == model.TagWireguard {
		return conn.Proto.NodeID.String()
	}
	return conn.Env
}

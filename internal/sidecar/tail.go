package sidecar

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

// Tail absorbs the connection event stream into the sidecar's replica. Only
// Hysteria2 events matter here; everything else on the shared topics is
// skipped without logging.
type Tail struct {
	cache  *cache.Cache
	logger zerolog.Logger
}

func NewTail(c *cache.Cache, logger zerolog.Logger) *Tail {
	return &Tail{
		cache:  c,
		logger: logger.With().Str("component", "tail").Logger(),
	}
}

// Handle is the bus subscription callback. Replays are idempotent: the cache
// put of an identical connection is a no-op.
func (t *Tail) Handle(topic string, msgs []bus.Message) {
	for _, m := range msgs {
		if m.Tag != model.TagHysteria2 {
			continue
		}
		switch m.Action {
		case bus.ActionCreate, bus.ActionUpdate:
			t.cache.PutConnection(t.connFromMessage(m))
		case bus.ActionDelete:
			t.cache.RemoveConnection(m.ConnID)
		}
		t.logger.Debug().
			Str("conn_id", m.ConnID.String()).
			Str("action", m.Action.String()).
			Msg("event applied")
	}
}

func (t *Tail) connFromMessage(m bus.Message) *model.Connection {
	c := &model.Connection{
		ID:             m.ConnID,
		SubscriptionID: m.SubscriptionID,
		Proto:          model.Hysteria2Proto(m.Hysteria2Token),
		Status:         model.ConnActive,
	}
	if m.ExpiresAt != nil {
		exp := time.Unix(*m.ExpiresAt, 0)
		c.ExpiredAt = &exp
	}
	return c
}

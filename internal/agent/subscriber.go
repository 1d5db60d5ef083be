package agent

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

// batchYield is slept after each applied batch so a flood of events cannot
// starve the stat and telemetry loops.
const batchYield = 10 * time.Millisecond

type dataplane interface {
	AddUser(ctx context.Context, conn *model.Connection) error
	RemoveUser(ctx context.Context, tag model.ProtoTag, email string) error
	ResetUserStat(ctx context.Context, email string) error
}

type peerManager interface {
	AddPeer(pubkey string, addr netip.Addr) error
	SyncPeer(pubkey string, addr netip.Addr) error
	RemovePeer(pubkey string) error
}

// Reconciler applies connection lifecycle events to the local dataplane and
// mirrors them into the agent's cache.
type Reconciler struct {
	env    string
	nodeID uuid.UUID
	cache  *cache.Cache
	xray   dataplane
	wg     peerManager // nil when the node has no WireGuard interface
	logger zerolog.Logger
}

func NewReconciler(env string, nodeID uuid.UUID, c *cache.Cache, xray dataplane, wg peerManager, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		env:    env,
		nodeID: nodeID,
		cache:  c,
		xray:   xray,
		wg:     wg,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// Bootstrap provisions the dataplane from a full connection listing fetched
// over HTTP, before the bus subscription starts. Re-provisioning survivors
// of a previous run is expected and tolerated.
func (r *Reconciler) Bootstrap(ctx context.Context, conns []*model.Connection) error {
	var provisioned int
	for _, conn := range conns {
		if conn.IsDeleted {
			continue
		}
		switch {
		case conn.Proto.Tag == model.TagWireguard:
			if conn.Proto.NodeID != r.nodeID {
				continue
			}
			if r.wg == nil || conn.Proto.Wg == nil {
				return fmt.Errorf("wireguard connection %s on a node without a wireguard interface", conn.ID)
			}
			if err := r.wg.SyncPeer(conn.Proto.Wg.Keys.Pubkey, conn.Proto.Wg.Address.Addr); err != nil {
				return err
			}
		case conn.Proto.Tag.IsXray():
			if err := r.xray.AddUser(ctx, conn); err != nil {
				return err
			}
		}
		r.cache.PutConnection(conn)
		provisioned++
	}
	r.logger.Info().Int("connections", provisioned).Msg("bootstrap complete")
	return nil
}

// Handle is the bus subscription callback.
func (r *Reconciler) Handle(topic string, msgs []bus.Message) {
	ctx := context.Background()
	for _, m := range msgs {
		if err := r.apply(ctx, topic, m); err != nil {
			r.logger.Warn().Err(err).
				Str("conn_id", m.ConnID.String()).
				Str("action", m.Action.String()).
				Str("proto", string(m.Tag)).
				Msg("event dropped")
		}
	}
	time.Sleep(batchYield)
}

func (r *Reconciler) apply(ctx context.Context, topic string, m bus.Message) error {
	switch {
	case m.Tag == model.TagWireguard:
		return r.applyWireguard(topic, m)
	case m.Tag.IsXray():
		return r.applyXray(ctx, m)
	case m.Tag == model.TagHysteria2, m.Tag == model.TagMtproto:
		// Not served by this process; tracked for the debug surface only.
		r.applyCacheOnly(m)
		return nil
	}
	return fmt.Errorf("unknown proto tag %q", m.Tag)
}

func (r *Reconciler) applyWireguard(topic string, m bus.Message) error {
	// WireGuard events are addressed to exactly one node.
	if topic != r.nodeID.String() {
		return fmt.Errorf("wireguard event for another node on topic %q", topic)
	}
	if r.wg == nil {
		return fmt.Errorf("no wireguard interface configured")
	}
	if m.WgParam == nil {
		return fmt.Errorf("wireguard event without peer params")
	}

	switch m.Action {
	case bus.ActionCreate:
		if err := r.wg.AddPeer(m.WgParam.Keys.Pubkey, m.WgParam.Address.Addr); err != nil {
			return err
		}
		r.cache.PutConnection(r.connFromMessage(m))
	case bus.ActionUpdate:
		// Peer keys and addresses are immutable; only metadata moved.
		r.cache.ReplaceConnection(r.connFromMessage(m))
	case bus.ActionDelete:
		if err := r.wg.RemovePeer(m.WgParam.Keys.Pubkey); err != nil {
			return err
		}
		r.cache.RemoveConnection(m.ConnID)
	}
	return nil
}

func (r *Reconciler) applyXray(ctx context.Context, m bus.Message) error {
	conn := r.connFromMessage(m)
	email := conn.Email()

	switch m.Action {
	case bus.ActionCreate:
		if err := r.xray.AddUser(ctx, conn); err != nil {
			return err
		}
		r.cache.PutConnection(conn)
	case bus.ActionUpdate:
		// Credentials may have changed; re-provision the user.
		if err := r.xray.RemoveUser(ctx, m.Tag, email); err != nil {
			return err
		}
		if err := r.xray.AddUser(ctx, conn); err != nil {
			return err
		}
		r.cache.ReplaceConnection(conn)
	case bus.ActionDelete:
		if err := r.xray.RemoveUser(ctx, m.Tag, email); err != nil {
			return err
		}
		r.cache.RemoveConnection(m.ConnID)
	case bus.ActionResetStat:
		if err := r.xray.ResetUserStat(ctx, email); err != nil {
			return err
		}
		r.cache.UpdateStat(m.ConnID, model.ConnectionStat{})
	}
	return nil
}

func (r *Reconciler) applyCacheOnly(m bus.Message) {
	switch m.Action {
	case bus.ActionCreate:
		r.cache.PutConnection(r.connFromMessage(m))
	case bus.ActionUpdate:
		r.cache.ReplaceConnection(r.connFromMessage(m))
	case bus.ActionDelete:
		r.cache.RemoveConnection(m.ConnID)
	}
}

func (r *Reconciler) connFromMessage(m bus.Message) *model.Connection {
	c := &model.Connection{
		ID:             m.ConnID,
		Env:            r.env,
		SubscriptionID: m.SubscriptionID,
		Status:         model.ConnActive,
	}
	switch m.Tag {
	case model.TagWireguard:
		c.Proto = model.WireguardProto(m.WgParam, r.nodeID)
	case model.TagShadowsocks:
		c.Proto = model.ShadowsocksProto(m.Password)
	case model.TagHysteria2:
		c.Proto = model.Hysteria2Proto(m.Hysteria2Token)
	default:
		c.Proto = model.Proto{Tag: m.Tag}
	}
	if m.ExpiresAt != nil {
		t := time.Unix(*m.ExpiresAt, 0)
		c.ExpiredAt = &t
	}
	return c
}

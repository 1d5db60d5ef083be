package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/cache"
	"github.com/ponyhq/pony/internal/model"
)

// ConnectionService owns the connection lifecycle. Every mutation runs the
// same pipeline: validate, write the store, apply to the cache, publish the
// event when the mutation took effect.
type ConnectionService struct {
	store  ConnStorage
	cache  *cache.Cache
	pub    EventPublisher
	logger zerolog.Logger
	now    func() time.Time

	pick    func(n int) int // tie-break among equally loaded nodes
	genKeys func() (model.WgKeys, error)
}

// CreateConnectionParams is the resolved create request. Zero ID means the
// orchestrator assigns one.
type CreateConnectionParams struct {
	ID             uuid.UUID
	Env            string
	SubscriptionID *uuid.UUID
	UserID         *int64
	Tag            model.ProtoTag
	Password       string     // shadowsocks only
	NodeID         uuid.UUID  // optional wireguard placement pin
	WgParam        *model.WgParam
	Hysteria2Token string
	IsTrial        bool
	DailyLimitMB   int
	ExpiredAt      *time.Time
}

func (s *ConnectionService) Create(ctx context.Context, p CreateConnectionParams) (model.OpStatus, error) {
	if p.Env == "" || len(p.Env) > 50 {
		return model.BadRequest(p.ID, "env is required and must be at most 50 characters"), nil
	}
	if _, err := model.ParseProtoTag(string(p.Tag)); err != nil {
		return model.BadRequest(p.ID, err.Error()), nil
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	} else if existing, ok := s.cache.Connection(id); ok {
		if existing.IsDeleted {
			return model.DeletedPreviously(id), nil
		}
		return model.AlreadyExist(id), nil
	}

	if p.SubscriptionID != nil {
		if _, ok := s.cache.Subscription(*p.SubscriptionID); !ok {
			return model.BadRequest(id, "unknown subscription"), nil
		}
	}

	proto, fail, err := s.buildProto(id, p)
	if err != nil {
		return model.OpStatus{}, err
	}
	if fail != nil {
		return *fail, nil
	}

	now := s.now()
	conn := &model.Connection{
		ID:             id,
		Env:            p.Env,
		SubscriptionID: p.SubscriptionID,
		UserID:         p.UserID,
		Proto:          proto,
		IsTrial:        p.IsTrial,
		DailyLimitMB:   p.DailyLimitMB,
		Status:         model.ConnActive,
		CreatedAt:      now,
		ModifiedAt:     now,
		ExpiredAt:      p.ExpiredAt,
	}

	if err := s.store.Insert(ctx, conn); err != nil {
		return model.OpStatus{}, err
	}
	s.cache.PutConnection(conn)
	s.pub.Publish(bus.TopicFor(conn), []bus.Message{bus.FromConnection(bus.ActionCreate, conn)})

	s.logger.Info().
		Str("conn_id", id.String()).
		Str("env", p.Env).
		Str("proto", string(proto.Tag)).
		Msg("connection created")
	return model.Ok(id), nil
}

// buildProto resolves the credential side of a create request. A non-nil
// OpStatus is a caller error; err is an internal failure.
func (s *ConnectionService) buildProto(id uuid.UUID, p CreateConnectionParams) (model.Proto, *model.OpStatus, error) {
	if p.Password != "" && p.Tag != model.TagShadowsocks {
		st := model.BadRequest(id, "password is only valid for shadowsocks")
		return model.Proto{}, &st, nil
	}

	switch p.Tag {
	case model.TagShadowsocks:
		if p.Password == "" {
			st := model.BadRequest(id, "password is required for shadowsocks")
			return model.Proto{}, &st, nil
		}
		return model.ShadowsocksProto(p.Password), nil, nil

	case model.TagWireguard:
		return s.placeWireguard(id, p.Env, p.NodeID, p.WgParam)

	case model.TagHysteria2:
		token := p.Hysteria2Token
		if token == "" {
			token = uuid.NewString()
		} else if other, ok := s.cache.LookupToken(token); ok && other != id {
			st := model.Conflict(id, "hysteria2 token already in use")
			return model.Proto{}, &st, nil
		}
		return model.Hysteria2Proto(token), nil, nil

	case model.TagMtproto:
		return model.MtprotoProto(), nil, nil

	default:
		return model.XrayProto(p.Tag), nil, nil
	}
}

// UpdateConnectionParams carries the mutable fields; nil means untouched.
// Stat is exclusive: a stat push never combines with lifecycle changes.
type UpdateConnectionParams struct {
	Password       *string
	SubscriptionID *uuid.UUID
	UserID         *int64
	IsTrial        *bool
	DailyLimitMB   *int
	ExpiredAt      *time.Time
	Status         *model.ConnectionStatus
	IsDeleted      *bool
	Stat           *model.ConnectionStat
}

func (p UpdateConnectionParams) statOnly() bool {
	return p.Stat != nil &&
		p.Password == nil && p.SubscriptionID == nil && p.UserID == nil &&
		p.IsTrial == nil && p.DailyLimitMB == nil && p.ExpiredAt == nil &&
		p.Status == nil && p.IsDeleted == nil
}

func (s *ConnectionService) Update(ctx context.Context, id uuid.UUID, p UpdateConnectionParams) (model.OpStatus, error) {
	cur, ok := s.cache.Connection(id)
	if !ok {
		return model.NotFound(id, "connection not found"), nil
	}
	if cur.IsDeleted {
		// Asking for the state it is already in.
		if p.IsDeleted != nil && *p.IsDeleted {
			return model.NotModified(id), nil
		}
		return model.DeletedPreviously(id), nil
	}

	if p.Stat != nil {
		if !p.statOnly() {
			return model.BadRequest(id, "stat cannot be combined with other fields"), nil
		}
		if err := s.store.SetStat(ctx, id, *p.Stat); err != nil {
			return model.OpStatus{}, err
		}
		s.cache.UpdateStat(id, *p.Stat)
		return model.UpdatedStat(id), nil
	}

	if p.Password != nil && cur.Proto.Tag != model.TagShadowsocks {
		return model.BadRequest(id, "password is only valid for shadowsocks"), nil
	}
	if p.SubscriptionID != nil {
		if _, ok := s.cache.Subscription(*p.SubscriptionID); !ok {
			return model.BadRequest(id, "unknown subscription"), nil
		}
	}
	if p.IsDeleted != nil && *p.IsDeleted {
		return s.Delete(ctx, id)
	}

	next := cur.Clone()
	if p.Password != nil {
		next.Proto.Password = *p.Password
	}
	if p.SubscriptionID != nil {
		next.SubscriptionID = p.SubscriptionID
	}
	if p.UserID != nil {
		next.UserID = p.UserID
	}
	if p.IsTrial != nil {
		next.IsTrial = *p.IsTrial
	}
	if p.DailyLimitMB != nil {
		next.DailyLimitMB = *p.DailyLimitMB
	}
	if p.ExpiredAt != nil {
		next.ExpiredAt = p.ExpiredAt
	}
	if p.Status != nil {
		next.Status = *p.Status
	}

	if next.Equal(cur) {
		return model.NotModified(id), nil
	}

	next.ModifiedAt = s.now()
	if err := s.store.Update(ctx, next); err != nil {
		return model.OpStatus{}, err
	}
	s.cache.ReplaceConnection(next)
	s.pub.Publish(bus.TopicFor(next), []bus.Message{bus.FromConnection(bus.ActionUpdate, next)})

	s.logger.Info().Str("conn_id", id.String()).Msg("connection updated")
	return model.Updated(id), nil
}

// Delete soft-deletes a connection. Deletion is terminal: a second delete is
// answered like an unknown id.
func (s *ConnectionService) Delete(ctx context.Context, id uuid.UUID) (model.OpStatus, error) {
	cur, ok := s.cache.Connection(id)
	if !ok || cur.IsDeleted {
		return model.NotFound(id, "connection not found"), nil
	}

	next := cur.Clone()
	next.IsDeleted = true
	next.ModifiedAt = s.now()
	if err := s.store.Update(ctx, next); err != nil {
		return model.OpStatus{}, err
	}
	s.cache.MarkDeleted(id)
	s.pub.Publish(bus.TopicFor(next), []bus.Message{bus.FromConnection(bus.ActionDelete, next)})

	s.logger.Info().Str("conn_id", id.String()).Msg("connection deleted")
	return model.Ok(id), nil
}

// Get returns a connection from the cache.
func (s *ConnectionService) Get(id uuid.UUID) (*model.Connection, bool) {
	return s.cache.Connection(id)
}

// ListFilter narrows List. Since set means the caller is tailing changes;
// the matching batch is additionally republished on the "all" topic so a
// restarting subscriber can catch up over the bus.
type ListFilter struct {
	Env   string
	Proto model.ProtoTag
	Since *time.Time
}

func (s *ConnectionService) List(f ListFilter) []*model.Connection {
	conns := s.cache.Connections(func(c *model.Connection) bool {
		if f.Env != "" && c.Env != f.Env {
			return false
		}
		if f.Proto != "" && c.Proto.Tag != f.Proto {
			return false
		}
		if f.Since != nil && !c.ModifiedAt.After(*f.Since) {
			return false
		}
		return true
	})

	if f.Since != nil && len(conns) > 0 {
		msgs := make([]bus.Message, 0, len(conns))
		for _, c := range conns {
			action := bus.ActionCreate
			if c.IsDeleted {
				action = bus.ActionDelete
			}
			msgs = append(msgs, bus.FromConnection(action, c))
		}
		s.pub.Publish(bus.TopicAll, msgs)
	}
	return conns
}

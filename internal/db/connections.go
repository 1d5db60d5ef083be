package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ponyhq/pony/internal/model"
)

// ConnStore persists connections. The proto sum is flattened into the row:
// the tag column plus whichever of password, token, and wg_* are present.
type ConnStore struct {
	pool *pgxpool.Pool
}

func NewConnStore(pool *pgxpool.Pool) *ConnStore {
	return &ConnStore{pool: pool}
}

const connColumns = `id, env, subscription_id, user_id, proto, password, token,
	node_id, wg_privkey, wg_pubkey, wg_address,
	is_trial, daily_limit_mb, uplink, downlink, online,
	status, created_at, modified_at, expired_at, is_deleted`

func connArgs(c *model.Connection) []any {
	var (
		password, token, wgPrivkey, wgPubkey, wgAddress *string
		nodeID                                          *uuid.UUID
	)
	if c.Proto.Password != "" {
		password = &c.Proto.Password
	}
	if c.Proto.Hysteria2Token != "" {
		token = &c.Proto.Hysteria2Token
	}
	if c.Proto.Tag == model.TagWireguard {
		id := c.Proto.NodeID
		nodeID = &id
		if c.Proto.Wg != nil {
			wgPrivkey, wgPubkey = &c.Proto.Wg.Keys.Privkey, &c.Proto.Wg.Keys.Pubkey
			addr := c.Proto.Wg.Address.String()
			wgAddress = &addr
		}
	}
	return []any{
		c.ID, c.Env, c.SubscriptionID, c.UserID, c.Proto.Tag, password, token,
		nodeID, wgPrivkey, wgPubkey, wgAddress,
		c.IsTrial, c.DailyLimitMB, int64(c.Stat.Uplink), int64(c.Stat.Downlink), int64(c.Stat.Online),
		c.Status, c.CreatedAt, c.ModifiedAt, c.ExpiredAt, c.IsDeleted,
	}
}

func scanConn(row pgx.Row) (*model.Connection, error) {
	var (
		c                                               model.Connection
		tag                                             string
		password, token, wgPrivkey, wgPubkey, wgAddress *string
		nodeID                                          *uuid.UUID
		uplink, downlink, online                        int64
	)
	err := row.Scan(&c.ID, &c.Env, &c.SubscriptionID, &c.UserID, &tag, &password, &token,
		&nodeID, &wgPrivkey, &wgPubkey, &wgAddress,
		&c.IsTrial, &c.DailyLimitMB, &uplink, &downlink, &online,
		&c.Status, &c.CreatedAt, &c.ModifiedAt, &c.ExpiredAt, &c.IsDeleted)
	if err != nil {
		return nil, err
	}
	c.Stat = model.ConnectionStat{Uplink: uint64(uplink), Downlink: uint64(downlink), Online: uint64(online)}

	protoTag, err := model.ParseProtoTag(tag)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", c.ID, err)
	}
	c.Proto = model.Proto{Tag: protoTag}
	if password != nil {
		c.Proto.Password = *password
	}
	if token != nil {
		c.Proto.Hysteria2Token = *token
	}
	if protoTag == model.TagWireguard && nodeID != nil {
		c.Proto.NodeID = *nodeID
		if wgPrivkey != nil && wgPubkey != nil && wgAddress != nil {
			addr, err := model.ParseIPMask(*wgAddress)
			if err != nil {
				return nil, fmt.Errorf("connection %s wg address: %w", c.ID, err)
			}
			c.Proto.Wg = &model.WgParam{
				Keys:    model.WgKeys{Privkey: *wgPrivkey, Pubkey: *wgPubkey},
				Address: addr,
			}
		}
	}
	return &c, nil
}

func (s *ConnStore) Insert(ctx context.Context, c *model.Connection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO connections (`+connColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		connArgs(c)...)
	if err != nil {
		return fmt.Errorf("insert connection %s: %w", c.ID, err)
	}
	return nil
}

func (s *ConnStore) Update(ctx context.Context, c *model.Connection) error {
	args := connArgs(c)
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET
		   env = $2, subscription_id = $3, user_id = $4, proto = $5, password = $6, token = $7,
		   node_id = $8, wg_privkey = $9, wg_pubkey = $10, wg_address = $11,
		   is_trial = $12, daily_limit_mb = $13, uplink = $14, downlink = $15, online = $16,
		   status = $17, modified_at = $19, expired_at = $20, is_deleted = $21
		 WHERE id = $1`,
		args...)
	if err != nil {
		return fmt.Errorf("update connection %s: %w", c.ID, err)
	}
	return nil
}

func (s *ConnStore) Get(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+connColumns+` FROM connections WHERE id = $1`, id)
	c, err := scanConn(row)
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}
	return c, nil
}

// ConnFilter narrows List; zero values mean "any".
type ConnFilter struct {
	Env        string
	Proto      model.ProtoTag
	Since      *time.Time // modified_at strictly after
	TrialsOnly bool
	Status     model.ConnectionStatus
	Deleted    *bool
}

func (s *ConnStore) List(ctx context.Context, f ConnFilter) ([]*model.Connection, error) {
	query := `SELECT ` + connColumns + ` FROM connections WHERE 1=1`
	var args []any
	argIdx := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}
	if f.Env != "" {
		add(` AND env = $%d`, f.Env)
	}
	if f.Proto != "" {
		add(` AND proto = $%d`, f.Proto)
	}
	if f.Since != nil {
		add(` AND modified_at > $%d`, *f.Since)
	}
	if f.TrialsOnly {
		query += ` AND is_trial`
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	if f.Deleted != nil {
		add(` AND is_deleted = $%d`, *f.Deleted)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []*model.Connection
	for rows.Next() {
		c, err := scanConn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return conns, nil
}

// SetStat writes the rolling counters without touching modified_at; stat
// updates are not mutations in the lifecycle sense.
func (s *ConnStore) SetStat(ctx context.Context, id uuid.UUID, stat model.ConnectionStat) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET uplink = $1, downlink = $2, online = $3 WHERE id = $4`,
		int64(stat.Uplink), int64(stat.Downlink), int64(stat.Online), id)
	if err != nil {
		return fmt.Errorf("set connection %s stat: %w", id, err)
	}
	return nil
}

// SetStatus flips the trial lifecycle status and bumps modified_at.
func (s *ConnStore) SetStatus(ctx context.Context, id uuid.UUID, status model.ConnectionStatus, modifiedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET status = $1, modified_at = $2 WHERE id = $3`,
		status, modifiedAt, id)
	if err != nil {
		return fmt.Errorf("set connection %s status: %w", id, err)
	}
	return nil
}

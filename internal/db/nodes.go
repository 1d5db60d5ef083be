package db

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ponyhq/pony/internal/model"
)

// NodeStore persists nodes and their inbounds. A node and its inbounds are
// written in one transaction and loaded back into one struct.
type NodeStore struct {
	pool *pgxpool.Pool
}

func NewNodeStore(pool *pgxpool.Pool) *NodeStore {
	return &NodeStore{pool: pool}
}

// Upsert writes the node row and replaces its inbound child rows
// transactionally. Returns true when the node row was newly inserted.
func (s *NodeStore) Upsert(ctx context.Context, n *model.Node) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin node upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted bool
	err = tx.QueryRow(ctx,
		`INSERT INTO nodes (id, env, hostname, address, status, label, interface, cores, max_bandwidth_bps, created_at, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   env = EXCLUDED.env,
		   hostname = EXCLUDED.hostname,
		   address = EXCLUDED.address,
		   status = EXCLUDED.status,
		   label = EXCLUDED.label,
		   interface = EXCLUDED.interface,
		   cores = EXCLUDED.cores,
		   max_bandwidth_bps = EXCLUDED.max_bandwidth_bps,
		   modified_at = EXCLUDED.modified_at
		 RETURNING (xmax = 0)`,
		n.ID, n.Env, n.Hostname, n.Address.String(), n.Status, n.Label,
		n.Interface, n.Cores, n.MaxBandwidthBps, n.CreatedAt, n.ModifiedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert node %s: %w", n.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM inbounds WHERE node_id = $1`, n.ID); err != nil {
		return false, fmt.Errorf("clear inbounds for node %s: %w", n.ID, err)
	}
	for _, ib := range n.Inbounds {
		if err := insertInbound(ctx, tx, n.ID, ib); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit node upsert: %w", err)
	}
	return inserted, nil
}

func insertInbound(ctx context.Context, tx pgx.Tx, nodeID uuid.UUID, ib model.Inbound) error {
	var (
		wgPubkey, wgPrivkey, wgInterface, wgNetwork, wgAddress *string
		wgPort                                                 *int
		dns                                                    []string
		hyObfs, mtprotoSecret                                  *string
		hyUp, hyDown                                           *int
	)
	if ib.Wg != nil {
		wgPubkey, wgPrivkey = &ib.Wg.Pubkey, &ib.Wg.Privkey
		wgInterface = &ib.Wg.Interface
		network := ib.Wg.Network.String()
		wgNetwork = &network
		address := ib.Wg.Address.String()
		wgAddress = &address
		port := int(ib.Wg.Port)
		wgPort = &port
		for _, d := range ib.Wg.DNS {
			dns = append(dns, d.String())
		}
	}
	if ib.Hysteria2 != nil {
		hyObfs = &ib.Hysteria2.Obfs
		hyUp, hyDown = &ib.Hysteria2.UpMbps, &ib.Hysteria2.DownMbps
	}
	if ib.Mtproto != nil {
		mtprotoSecret = &ib.Mtproto.Secret
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO inbounds (node_id, tag, port, stream_settings, uplink, downlink, conn_count,
		   wg_pubkey, wg_privkey, wg_interface, wg_network, wg_address, wg_port, dns,
		   hy_obfs, hy_up_mbps, hy_down_mbps, mtproto_secret)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		nodeID, ib.Tag, int(ib.Port), ib.StreamSettings, int64(ib.Uplink), int64(ib.Downlink), int64(ib.ConnCount),
		wgPubkey, wgPrivkey, wgInterface, wgNetwork, wgAddress, wgPort, dns,
		hyObfs, hyUp, hyDown, mtprotoSecret,
	)
	if err != nil {
		return fmt.Errorf("insert inbound %s for node %s: %w", ib.Tag, nodeID, err)
	}
	return nil
}

const nodeColumns = `id, env, hostname, address::text, status, label, interface, cores, max_bandwidth_bps, created_at, modified_at`

func scanNode(row pgx.Row) (*model.Node, error) {
	var (
		n    model.Node
		addr string
	)
	err := row.Scan(&n.ID, &n.Env, &n.Hostname, &addr, &n.Status, &n.Label,
		&n.Interface, &n.Cores, &n.MaxBandwidthBps, &n.CreatedAt, &n.ModifiedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := netip.ParseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("node %s address: %w", n.ID, err)
	}
	n.Address = parsed
	n.Inbounds = make(map[model.ProtoTag]model.Inbound)
	return &n, nil
}

func (s *NodeStore) Get(ctx context.Context, env string, id uuid.UUID) (*model.Node, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1 AND env = $2`, id, env)
	n, err := scanNode(row)
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	if err := s.loadInbounds(ctx, []*model.Node{n}); err != nil {
		return nil, err
	}
	return n, nil
}

// List returns nodes with inbounds, filtered by env when non-empty.
func (s *NodeStore) List(ctx context.Context, env string) ([]*model.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes`
	var args []any
	if env != "" {
		query += ` WHERE env = $1`
		args = append(args, env)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	if err := s.loadInbounds(ctx, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *NodeStore) loadInbounds(ctx context.Context, nodes []*model.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*model.Node, len(nodes))
	ids := make([]uuid.UUID, 0, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		ids = append(ids, n.ID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT node_id, tag, port, stream_settings, uplink, downlink, conn_count,
		   wg_pubkey, wg_privkey, wg_interface, wg_network, wg_address, wg_port, dns,
		   hy_obfs, hy_up_mbps, hy_down_mbps, mtproto_secret
		 FROM inbounds WHERE node_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load inbounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nodeID                                                 uuid.UUID
			ib                                                     model.Inbound
			port                                                   int
			uplink, downlink, connCount                            int64
			wgPubkey, wgPrivkey, wgInterface, wgNetwork, wgAddress *string
			wgPort                                                 *int
			dns                                                    []string
			hyObfs, mtprotoSecret                                  *string
			hyUp, hyDown                                           *int
		)
		err := rows.Scan(&nodeID, &ib.Tag, &port, &ib.StreamSettings, &uplink, &downlink, &connCount,
			&wgPubkey, &wgPrivkey, &wgInterface, &wgNetwork, &wgAddress, &wgPort, &dns,
			&hyObfs, &hyUp, &hyDown, &mtprotoSecret)
		if err != nil {
			return fmt.Errorf("scan inbound: %w", err)
		}
		ib.Port = uint16(port)
		ib.Uplink, ib.Downlink, ib.ConnCount = uint64(uplink), uint64(downlink), uint64(connCount)

		if wgPubkey != nil && wgNetwork != nil && wgAddress != nil {
			network, err := model.ParseIPMask(*wgNetwork)
			if err != nil {
				return fmt.Errorf("inbound %s/%s network: %w", nodeID, ib.Tag, err)
			}
			address, err := netip.ParseAddr(*wgAddress)
			if err != nil {
				return fmt.Errorf("inbound %s/%s address: %w", nodeID, ib.Tag, err)
			}
			wg := &model.WgSettings{
				Pubkey:  *wgPubkey,
				Network: network,
				Address: address,
			}
			if wgPrivkey != nil {
				wg.Privkey = *wgPrivkey
			}
			if wgInterface != nil {
				wg.Interface = *wgInterface
			}
			if wgPort != nil {
				wg.Port = uint16(*wgPort)
			}
			for _, d := range dns {
				addr, err := netip.ParseAddr(d)
				if err != nil {
					return fmt.Errorf("inbound %s/%s dns: %w", nodeID, ib.Tag, err)
				}
				wg.DNS = append(wg.DNS, addr)
			}
			ib.Wg = wg
		}
		if hyObfs != nil {
			ib.Hysteria2 = &model.Hysteria2Settings{Obfs: *hyObfs}
			if hyUp != nil {
				ib.Hysteria2.UpMbps = *hyUp
			}
			if hyDown != nil {
				ib.Hysteria2.DownMbps = *hyDown
			}
		}
		if mtprotoSecret != nil {
			ib.Mtproto = &model.MtprotoSettings{Secret: *mtprotoSecret}
		}

		if n, ok := byID[nodeID]; ok {
			n.Inbounds[ib.Tag] = ib
		}
	}
	return rows.Err()
}

// SetStatus records a health transition.
func (s *NodeStore) SetStatus(ctx context.Context, key model.NodeKey, status model.NodeStatus, modifiedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE nodes SET status = $1, modified_at = $2 WHERE id = $3 AND env = $4`,
		status, modifiedAt, key.ID, key.Env)
	if err != nil {
		return fmt.Errorf("set node %s status: %w", key.ID, err)
	}
	return nil
}

// Package cache holds the in-memory derived view of the durable store.
// All three roles share the one type and fill only their slice of it: the
// orchestrator loads everything, an agent holds its own node plus the
// connections routed to it, the auth sidecar holds Hysteria2 connections.
package cache

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ponyhq/pony/internal/model"
)

type Cache struct {
	mu            sync.RWMutex
	nodes         map[model.NodeKey]*model.Node
	connections   map[uuid.UUID]*model.Connection
	subscriptions map[uuid.UUID]*model.Subscription
	tokens        map[string]uuid.UUID // hysteria2 token -> connection id
}

func New() *Cache {
	return &Cache{
		nodes:         make(map[model.NodeKey]*model.Node),
		connections:   make(map[uuid.UUID]*model.Connection),
		subscriptions: make(map[uuid.UUID]*model.Subscription),
		tokens:        make(map[string]uuid.UUID),
	}
}

// --- nodes ---

// UpsertNode stores a copy of n. Returns OpOk for a new node, OpUpdated
// when an existing entry changed, OpNotModified otherwise.
func (c *Cache) UpsertNode(n *model.Node) model.OpKind {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *n
	key := n.Key()
	_, ok := c.nodes[key]
	c.nodes[key] = &cp
	if !ok {
		return model.OpOk
	}
	return model.OpUpdated
}

func (c *Cache) Node(env string, id uuid.UUID) (*model.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.nodes[model.NodeKey{Env: env, ID: id}]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// NodeByID scans all envs for the node with the given id.
func (c *Cache) NodeByID(id uuid.UUID) (*model.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for key, n := range c.nodes {
		if key.ID == id {
			cp := *n
			return &cp, true
		}
	}
	return nil, false
}

// Nodes lists nodes, filtered by env when env is non-empty, sorted by id.
func (c *Cache) Nodes(env string) []model.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Node, 0, len(c.nodes))
	for key, n := range c.nodes {
		if env != "" && key.Env != env {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// SetNodeStatus flips a node's status in place. Returns false when the node
// is unknown or already in the requested state.
func (c *Cache) SetNodeStatus(key model.NodeKey, status model.NodeStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[key]
	if !ok || n.Status == status {
		return false
	}
	n.Status = status
	return true
}

// --- connections ---

// PutConnection inserts a copy of conn. An identical existing entry yields
// OpAlreadyExist so that event replay is a no-op; a differing entry is
// overwritten and yields OpUpdated.
func (c *Cache) PutConnection(conn *model.Connection) model.OpKind {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.connections[conn.ID]
	if ok && old.Equal(conn) {
		return model.OpAlreadyExist
	}
	c.storeConnLocked(conn)
	if ok {
		return model.OpUpdated
	}
	return model.OpOk
}

// ReplaceConnection overwrites the entry for conn.ID unconditionally.
func (c *Cache) ReplaceConnection(conn *model.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeConnLocked(conn)
}

func (c *Cache) storeConnLocked(conn *model.Connection) {
	if old, ok := c.connections[conn.ID]; ok && old.Proto.Hysteria2Token != "" {
		delete(c.tokens, old.Proto.Hysteria2Token)
	}
	c.connections[conn.ID] = conn.Clone()
	if conn.Proto.Hysteria2Token != "" && !conn.IsDeleted {
		c.tokens[conn.Proto.Hysteria2Token] = conn.ID
	}
}

func (c *Cache) Connection(id uuid.UUID) (*model.Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conn, ok := c.connections[id]
	if !ok {
		return nil, false
	}
	return conn.Clone(), true
}

// MarkDeleted soft-deletes the entry and drops its token index. Deletion is
// terminal: a second call returns OpNotModified.
func (c *Cache) MarkDeleted(id uuid.UUID) model.OpKind {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.connections[id]
	switch {
	case !ok:
		return model.OpNotFound
	case conn.IsDeleted:
		return model.OpNotModified
	}
	conn.IsDeleted = true
	if conn.Proto.Hysteria2Token != "" {
		delete(c.tokens, conn.Proto.Hysteria2Token)
	}
	return model.OpOk
}

// RemoveConnection drops the entry entirely. Agents and the sidecar remove
// on Delete events; removing an absent entry is silent.
func (c *Cache) RemoveConnection(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.connections[id]
	if !ok {
		return
	}
	if conn.Proto.Hysteria2Token != "" {
		delete(c.tokens, conn.Proto.Hysteria2Token)
	}
	delete(c.connections, id)
}

// UpdateStat overwrites the rolling counters of an existing connection.
func (c *Cache) UpdateStat(id uuid.UUID, stat model.ConnectionStat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.connections[id]
	if !ok {
		return false
	}
	conn.Stat = stat
	return true
}

// Connections returns clones of every connection matching filter; a nil
// filter matches all.
func (c *Cache) Connections(filter func(*model.Connection) bool) []*model.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*model.Connection
	for _, conn := range c.connections {
		if filter == nil || filter(conn) {
			out = append(out, conn.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// WireguardLoad counts non-deleted WireGuard connections per node in env.
func (c *Cache) WireguardLoad(env string) map[uuid.UUID]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	load := make(map[uuid.UUID]int)
	for _, conn := range c.connections {
		if conn.Proto.Tag == model.TagWireguard && !conn.IsDeleted && conn.Env == env {
			load[conn.Proto.NodeID]++
		}
	}
	return load
}

// WireguardAddrs lists the peer addresses currently allocated on a node.
func (c *Cache) WireguardAddrs(nodeID uuid.UUID) []netip.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []netip.Addr
	for _, conn := range c.connections {
		if conn.Proto.Tag == model.TagWireguard && !conn.IsDeleted &&
			conn.Proto.NodeID == nodeID && conn.Proto.Wg != nil {
			out = append(out, conn.Proto.Wg.Address.Addr)
		}
	}
	return out
}

// LookupToken resolves a Hysteria2 token to its connection id. This is the
// sidecar's hot path: one read lock, one map probe.
func (c *Cache) LookupToken(token string) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.tokens[token]
	return id, ok
}

// --- subscriptions ---

func (c *Cache) UpsertSubscription(s *model.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *s
	c.subscriptions[s.ID] = &cp
}

func (c *Cache) Subscription(id uuid.UUID) (*model.Subscription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.subscriptions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Counts reports cache sizes for the debug surface.
func (c *Cache) Counts() (nodes, connections, subscriptions int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes), len(c.connections), len(c.subscriptions)
}

package model

import (
	"encoding/json"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
	NodeUnknown NodeStatus = "unknown"
)

// Node is a proxy host running the Xray dataplane and, optionally, a
// WireGuard interface. Nodes are keyed by (env, id); the same node id never
// appears twice within one env.
type Node struct {
	ID              uuid.UUID            `json:"id"`
	Env             string               `json:"env"`
	Hostname        string               `json:"hostname"`
	Address         netip.Addr           `json:"address"`
	Interface       string               `json:"interface"`
	Label           string               `json:"label,omitempty"`
	Cores           int                  `json:"cores"`
	MaxBandwidthBps uint64               `json:"max_bandwidth_bps"`
	Status          NodeStatus           `json:"status"`
	Inbounds        map[ProtoTag]Inbound `json:"inbounds"`
	CreatedAt       time.Time            `json:"created_at"`
	ModifiedAt      time.Time            `json:"modified_at"`
}

// NodeKey identifies a node within the cluster.
type NodeKey struct {
	Env string
	ID  uuid.UUID
}

func (n *Node) Key() NodeKey {
	return NodeKey{Env: n.Env, ID: n.ID}
}

// WgInbound returns the node's WireGuard inbound, if any.
func (n *Node) WgInbound() (Inbound, bool) {
	ib, ok := n.Inbounds[TagWireguard]
	if !ok || ib.Wg == nil {
		return Inbound{}, false
	}
	return ib, true
}

// Inbound is a dataplane listener on a node.
type Inbound struct {
	Tag            ProtoTag           `json:"tag"`
	Port           uint16             `json:"port"`
	StreamSettings json.RawMessage    `json:"stream_settings,omitempty"`
	Uplink         uint64             `json:"uplink"`
	Downlink       uint64             `json:"downlink"`
	ConnCount      uint64             `json:"conn_count"`
	Wg             *WgSettings        `json:"wg,omitempty"`
	Hysteria2      *Hysteria2Settings `json:"hysteria2,omitempty"`
	Mtproto        *MtprotoSettings   `json:"mtproto,omitempty"`
}

// WgSettings holds the server side of a node's WireGuard interface.
type WgSettings struct {
	Pubkey    string       `json:"pubkey"`
	Privkey   string       `json:"-"`
	Interface string       `json:"interface"`
	Network   IPMask       `json:"network"`
	Address   netip.Addr   `json:"address"`
	Port      uint16       `json:"port"`
	DNS       []netip.Addr `json:"dns,omitempty"`
}

type Hysteria2Settings struct {
	Obfs     string `json:"obfs,omitempty"`
	UpMbps   int    `json:"up_mbps,omitempty"`
	DownMbps int    `json:"down_mbps,omitempty"`
}

type MtprotoSettings struct {
	Secret string `json:"secret"`
}

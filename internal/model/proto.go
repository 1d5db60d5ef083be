package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ProtoTag names the wire protocol family of an inbound or connection.
// The string form doubles as the Xray inbound tag and the stat path segment.
type ProtoTag string

const (
	TagVlessTcpReality   ProtoTag = "vless_tcp_reality"
	TagVlessGrpcReality  ProtoTag = "vless_grpc_reality"
	TagVlessXhttpReality ProtoTag = "vless_xhttp_reality"
	TagVmess             ProtoTag = "vmess"
	TagShadowsocks       ProtoTag = "shadowsocks"
	TagHysteria2         ProtoTag = "hysteria2"
	TagWireguard         ProtoTag = "wireguard"
	TagMtproto           ProtoTag = "mtproto"
)

var knownTags = map[ProtoTag]struct{}{
	TagVlessTcpReality:   {},
	TagVlessGrpcReality:  {},
	TagVlessXhttpReality: {},
	TagVmess:             {},
	TagShadowsocks:       {},
	TagHysteria2:         {},
	TagWireguard:         {},
	TagMtproto:           {},
}

func ParseProtoTag(s string) (ProtoTag, error) {
	t := ProtoTag(s)
	if _, ok := knownTags[t]; !ok {
		return "", fmt.Errorf("unknown proto tag %q", s)
	}
	return t, nil
}

// IsVless reports whether the tag is one of the VLESS reality transports.
func (t ProtoTag) IsVless() bool {
	switch t {
	case TagVlessTcpReality, TagVlessGrpcReality, TagVlessXhttpReality:
		return true
	}
	return false
}

// IsXray reports whether connections of this tag are provisioned through
// the Xray handler API (as opposed to WireGuard peer CRUD or the Hysteria2
// auth sidecar).
func (t ProtoTag) IsXray() bool {
	switch t {
	case TagVmess, TagShadowsocks:
		return true
	}
	return t.IsVless()
}

// WgKeys is a base64-encoded X25519 keypair.
type WgKeys struct {
	Privkey string `json:"privkey"`
	Pubkey  string `json:"pubkey"`
}

// WgParam is the per-peer WireGuard parameter block: keypair plus the
// address the peer owns inside its node's WG network.
type WgParam struct {
	Keys    WgKeys `json:"keys"`
	Address IPMask `json:"address"`
}

// Proto is the tagged sum describing a connection's credential. Exactly the
// fields relevant to Tag are set; the zero values of the rest are ignored
// by the store mapping.
type Proto struct {
	Tag            ProtoTag  `json:"tag"`
	Password       string    `json:"password,omitempty"`        // shadowsocks
	Wg             *WgParam  `json:"wg,omitempty"`              // wireguard
	NodeID         uuid.UUID `json:"node_id,omitempty"`         // wireguard
	Hysteria2Token string    `json:"hysteria2_token,omitempty"` // hysteria2
}

func XrayProto(tag ProtoTag) Proto {
	return Proto{Tag: tag}
}

func ShadowsocksProto(password string) Proto {
	return Proto{Tag: TagShadowsocks, Password: password}
}

func WireguardProto(param *WgParam, nodeID uuid.UUID) Proto {
	return Proto{Tag: TagWireguard, Wg: param, NodeID: nodeID}
}

func Hysteria2Proto(token string) Proto {
	return Proto{Tag: TagHysteria2, Hysteria2Token: token}
}

func MtprotoProto() Proto {
	return Proto{Tag: TagMtproto}
}

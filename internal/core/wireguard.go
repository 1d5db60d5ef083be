package core

import (
	"net/netip"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/ponyhq/pony/internal/model"
)

const wgPlacementNotFound = "Node not found for WireGuard connection"

// placeWireguard picks a node and a peer address for a new WireGuard
// connection. A pinned node must exist in the env and carry a WireGuard
// inbound; otherwise the least-loaded eligible node wins, ties broken at
// random. The peer address is either validated against the node's network or
// allocated as the successor of the highest address in use.
func (s *ConnectionService) placeWireguard(id uuid.UUID, env string, pinned uuid.UUID, supplied *model.WgParam) (model.Proto, *model.OpStatus, error) {
	node, fail := s.chooseWgNode(id, env, pinned)
	if fail != nil {
		return model.Proto{}, fail, nil
	}
	inbound, _ := node.WgInbound()
	network := inbound.Wg.Network

	param := supplied
	if param != nil {
		if !param.Address.IsValid() || !network.Contains(param.Address.Addr) {
			st := model.BadRequest(id, "wireguard address outside the node network")
			return model.Proto{}, &st, nil
		}
		for _, taken := range s.cache.WireguardAddrs(node.ID) {
			if taken == param.Address.Addr {
				st := model.Conflict(id, "wireguard address already allocated")
				return model.Proto{}, &st, nil
			}
		}
		param.Address.CIDR = network.CIDR
	} else {
		addr, fail := s.allocWgAddr(id, node, network)
		if fail != nil {
			return model.Proto{}, fail, nil
		}
		param = &model.WgParam{Address: model.IPMask{Addr: addr, CIDR: network.CIDR}}
	}

	if param.Keys == (model.WgKeys{}) {
		keys, err := s.genKeys()
		if err != nil {
			return model.Proto{}, nil, err
		}
		param.Keys = keys
	}
	return model.WireguardProto(param, node.ID), nil, nil
}

// chooseWgNode resolves placement. A bad pin is the caller's mistake and
// reads as BadRequest; an empty candidate set on auto-placement is NotFound.
func (s *ConnectionService) chooseWgNode(id uuid.UUID, env string, pinned uuid.UUID) (*model.Node, *model.OpStatus) {
	if pinned != uuid.Nil {
		node, ok := s.cache.Node(env, pinned)
		if !ok {
			st := model.BadRequest(id, "unknown node for wireguard placement")
			return nil, &st
		}
		if _, ok := node.WgInbound(); !ok {
			st := model.BadRequest(id, "node has no wireguard inbound")
			return nil, &st
		}
		return node, nil
	}

	var candidates []model.Node
	for _, n := range s.cache.Nodes(env) {
		if _, ok := n.WgInbound(); ok {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		st := model.NotFound(id, wgPlacementNotFound)
		return nil, &st
	}

	load := s.cache.WireguardLoad(env)
	min := load[candidates[0].ID]
	for _, n := range candidates[1:] {
		if load[n.ID] < min {
			min = load[n.ID]
		}
	}
	var ties []model.Node
	for _, n := range candidates {
		if load[n.ID] == min {
			ties = append(ties, n)
		}
	}
	chosen := ties[s.pick(len(ties))]
	return &chosen, nil
}

// allocWgAddr hands out the successor of the highest address in use on the
// node, seeded with the interface's own address so the first peer never
// collides with the server.
func (s *ConnectionService) allocWgAddr(id uuid.UUID, node *model.Node, network model.IPMask) (netip.Addr, *model.OpStatus) {
	inbound, _ := node.WgInbound()
	max := inbound.Wg.Address
	for _, taken := range s.cache.WireguardAddrs(node.ID) {
		if taken.Compare(max) > 0 {
			max = taken
		}
	}
	next := max.Next()
	if !network.Contains(next) {
		st := model.Conflict(id, "wireguard network exhausted")
		return netip.Addr{}, &st
	}
	return next, nil
}

func generateWgKeys() (model.WgKeys, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return model.WgKeys{}, err
	}
	return model.WgKeys{
		Privkey: priv.String(),
		Pubkey:  priv.PublicKey().String(),
	}, nil
}

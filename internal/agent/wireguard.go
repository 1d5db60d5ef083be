package agent

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/rs/zerolog"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// WgManager drives the kernel WireGuard interface through the wgctrl netlink
// API. One peer per connection, allowed-ips pinned to the peer's /32.
type WgManager struct {
	client *wgctrl.Client
	iface  string
	logger zerolog.Logger
}

func NewWgManager(iface string, logger zerolog.Logger) (*WgManager, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("open wgctrl: %w", err)
	}
	return &WgManager{
		client: client,
		iface:  iface,
		logger: logger.With().Str("component", "wireguard").Logger(),
	}, nil
}

func (m *WgManager) Close() error {
	return m.client.Close()
}

// AddPeer configures a peer for pubkey with addr/32 as its only allowed ip.
// Adding a key that is already configured fails: peer addresses are owned by
// the orchestrator and a duplicate means split-brain.
func (m *WgManager) AddPeer(pubkey string, addr netip.Addr) error {
	key, err := wgtypes.ParseKey(pubkey)
	if err != nil {
		return fmt.Errorf("parse peer key: %w", err)
	}

	dev, err := m.client.Device(m.iface)
	if err != nil {
		return fmt.Errorf("read device %s: %w", m.iface, err)
	}
	for _, p := range dev.Peers {
		if p.PublicKey == key {
			return fmt.Errorf("peer %s already configured on %s", pubkey[:8], m.iface)
		}
	}

	allowed := net.IPNet{
		IP:   addr.AsSlice(),
		Mask: net.CIDRMask(32, 32),
	}
	err = m.client.ConfigureDevice(m.iface, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:         key,
			ReplaceAllowedIPs: true,
			AllowedIPs:        []net.IPNet{allowed},
		}},
	})
	if err != nil {
		return fmt.Errorf("add peer %s: %w", pubkey[:8], err)
	}

	m.logger.Info().Str("pubkey", pubkey[:8]+"...").Str("addr", addr.String()).Msg("wireguard peer added")
	return nil
}

// SyncPeer configures the peer without the duplicate check. Used at
// bootstrap, where peers surviving from the previous run are expected.
func (m *WgManager) SyncPeer(pubkey string, addr netip.Addr) error {
	key, err := wgtypes.ParseKey(pubkey)
	if err != nil {
		return fmt.Errorf("parse peer key: %w", err)
	}
	allowed := net.IPNet{
		IP:   addr.AsSlice(),
		Mask: net.CIDRMask(32, 32),
	}
	err = m.client.ConfigureDevice(m.iface, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:         key,
			ReplaceAllowedIPs: true,
			AllowedIPs:        []net.IPNet{allowed},
		}},
	})
	if err != nil {
		return fmt.Errorf("sync peer %s: %w", pubkey[:8], err)
	}
	return nil
}

// RemovePeer drops the peer. Removing an unknown key is a no-op: delete
// events are replayed.
func (m *WgManager) RemovePeer(pubkey string) error {
	key, err := wgtypes.ParseKey(pubkey)
	if err != nil {
		return fmt.Errorf("parse peer key: %w", err)
	}
	err = m.client.ConfigureDevice(m.iface, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey: key,
			Remove:    true,
		}},
	})
	if err != nil {
		return fmt.Errorf("remove peer %s: %w", pubkey[:8], err)
	}

	m.logger.Info().Str("pubkey", pubkey[:8]+"...").Msg("wireguard peer removed")
	return nil
}

// PeerCount reports the number of configured peers.
func (m *WgManager) PeerCount() (int, error) {
	dev, err := m.client.Device(m.iface)
	if err != nil {
		return 0, fmt.Errorf("read device %s: %w", m.iface, err)
	}
	return len(dev.Peers), nil
}

package agent

import (
	"fmt"
	"net/netip"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ponyhq/pony/internal/config"
	"github.com/ponyhq/pony/internal/model"
)

// NodeID derives the node's stable identity from its env and hostname, so
// the same machine keeps its id (and its bus topic) across restarts.
func NodeID(env, hostname string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(env+"."+hostname))
}

// BuildNode assembles the registration payload: identity, the uplink
// interface, the Xray inbounds from the local config file and, when
// configured, the WireGuard inbound.
func BuildNode(cfg *config.Agent) (*model.Node, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	iface, addr, err := defaultRoute()
	if err != nil {
		return nil, fmt.Errorf("probe uplink: %w", err)
	}

	inbounds, err := LoadInbounds(cfg.XrayConfigPath)
	if err != nil {
		return nil, err
	}

	if cfg.Wireguard != nil {
		wg, err := wgInboundFromConfig(cfg.Wireguard)
		if err != nil {
			return nil, err
		}
		inbounds[model.TagWireguard] = wg
	}

	return &model.Node{
		ID:              NodeID(cfg.Env, hostname),
		Env:             cfg.Env,
		Hostname:        hostname,
		Address:         addr,
		Interface:       iface,
		Label:           cfg.Label,
		Cores:           runtime.NumCPU(),
		MaxBandwidthBps: ifaceSpeedBps(iface),
		Inbounds:        inbounds,
	}, nil
}

func wgInboundFromConfig(cfg *config.AgentWireguard) (model.Inbound, error) {
	network, err := model.ParseIPMask(cfg.Network)
	if err != nil {
		return model.Inbound{}, fmt.Errorf("wireguard network: %w", err)
	}

	wg := &model.WgSettings{
		Pubkey:    cfg.Pubkey,
		Privkey:   cfg.Privkey,
		Interface: cfg.Interface,
		Network:   network,
		Address:   network.Addr,
		Port:      cfg.Port,
	}
	for _, d := range cfg.DNS {
		dns, err := netip.ParseAddr(d)
		if err != nil {
			return model.Inbound{}, fmt.Errorf("wireguard dns %q: %w", d, err)
		}
		wg.DNS = append(wg.DNS, dns)
	}

	return model.Inbound{
		Tag:  model.TagWireguard,
		Port: cfg.Port,
		Wg:   wg,
	}, nil
}

// ifaceSpeedBps reads the link speed sysfs attribute. Virtual interfaces
// report -1 or nothing; zero means unknown.
func ifaceSpeedBps(iface string) uint64 {
	b, err := os.ReadFile("/sys/class/net/" + iface + "/speed")
	if err != nil {
		return 0
	}
	mbps, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil || mbps <= 0 {
		return 0
	}
	return uint64(mbps) * 1_000_000
}

package agent

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponyhq/pony/internal/config"
	"github.com/ponyhq/pony/internal/model"
)

func TestNodeIDIsStable(t *testing.T) {
	a := NodeID("prod", "edge-1")
	assert.Equal(t, a, NodeID("prod", "edge-1"), "same identity across restarts")
	assert.NotEqual(t, a, NodeID("staging", "edge-1"))
	assert.NotEqual(t, a, NodeID("prod", "edge-2"))
}

func TestWgInboundFromConfig(t *testing.T) {
	ib, err := wgInboundFromConfig(&config.AgentWireguard{
		Interface: "wg0",
		Privkey:   "priv",
		Pubkey:    "pub",
		Network:   "10.9.0.1/24",
		Port:      51820,
		DNS:       []string{"1.1.1.1", "8.8.8.8"},
	})
	require.NoError(t, err)

	require.NotNil(t, ib.Wg)
	assert.Equal(t, model.TagWireguard, ib.Tag)
	assert.Equal(t, uint16(51820), ib.Port)
	assert.Equal(t, netip.MustParseAddr("10.9.0.1"), ib.Wg.Address)
	assert.Equal(t, uint8(24), ib.Wg.Network.CIDR)
	require.Len(t, ib.Wg.DNS, 2)
	assert.Equal(t, netip.MustParseAddr("1.1.1.1"), ib.Wg.DNS[0])
}

func TestWgInboundFromConfigRejectsBadInput(t *testing.T) {
	_, err := wgInboundFromConfig(&config.AgentWireguard{Network: "not-a-cidr"})
	assert.Error(t, err)

	_, err = wgInboundFromConfig(&config.AgentWireguard{Network: "10.9.0.1/24", DNS: []string{"nope"}})
	assert.Error(t, err)
}

func TestDefaultRouteIface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route")
	body := "Iface\tDestination\tGateway\tFlags\tRefCnt\tUse\tMetric\tMask\n" +
		"eth1\t0A090000\t00000000\t0001\t0\t0\t0\tFFFFFF00\n" +
		"eth0\t00000000\t0A090001\t0003\t0\t0\t100\t00000000\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	iface, err := defaultRouteIface(path)
	require.NoError(t, err)
	assert.Equal(t, "eth0", iface)
}

func TestDefaultRouteIfaceNoDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route")
	body := "Iface\tDestination\tGateway\n" +
		"eth1\t0A090000\t00000000\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := defaultRouteIface(path)
	assert.Error(t, err)
}

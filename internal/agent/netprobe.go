package agent

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
)

const procRoute = "/proc/net/route"

// defaultRoute returns the interface carrying the default route and its
// first IPv4 address. Used to self-describe the node at registration when
// the config does not pin an interface.
func defaultRoute() (string, netip.Addr, error) {
	iface, err := defaultRouteIface(procRoute)
	if err != nil {
		return "", netip.Addr{}, err
	}
	addr, err := ifaceIPv4(iface)
	if err != nil {
		return "", netip.Addr{}, err
	}
	return iface, addr, nil
}

func defaultRouteIface(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// Iface Destination Gateway Flags ...; default route has dest 00000000.
		if len(fields) >= 2 && fields[1] == "00000000" {
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan %s: %w", path, err)
	}
	return "", fmt.Errorf("no default route in %s", path)
}

func ifaceIPv4(name string) (netip.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("interface %s: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("addrs of %s: %w", name, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			addr, _ := netip.AddrFromSlice(v4)
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("interface %s has no IPv4 address", name)
}

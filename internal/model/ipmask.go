package model

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// IPMask is an IPv4 address with a CIDR prefix length, e.g. "10.0.0.5/24".
// Unlike netip.Prefix the host bits of Addr are significant: a WireGuard
// peer address is a concrete host inside its interface network.
type IPMask struct {
	Addr netip.Addr `json:"addr"`
	CIDR uint8      `json:"cidr"`
}

func ParseIPMask(s string) (IPMask, error) {
	addrPart, cidrPart, ok := strings.Cut(s, "/")
	if !ok {
		return IPMask{}, fmt.Errorf("ip mask %q: missing prefix length", s)
	}
	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return IPMask{}, fmt.Errorf("ip mask %q: %w", s, err)
	}
	cidr, err := strconv.ParseUint(cidrPart, 10, 8)
	if err != nil || cidr > 32 {
		return IPMask{}, fmt.Errorf("ip mask %q: invalid prefix length", s)
	}
	return IPMask{Addr: addr, CIDR: uint8(cidr)}, nil
}

func (m IPMask) String() string {
	return fmt.Sprintf("%s/%d", m.Addr, m.CIDR)
}

func (m IPMask) IsValid() bool {
	return m.Addr.IsValid() && m.Addr.Is4() && m.CIDR <= 32
}

// Network returns the masked network prefix this mask describes.
func (m IPMask) Network() netip.Prefix {
	return netip.PrefixFrom(m.Addr, int(m.CIDR)).Masked()
}

// Contains reports whether addr falls inside the network of this mask.
func (m IPMask) Contains(addr netip.Addr) bool {
	return m.Network().Contains(addr)
}

func (m IPMask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *IPMask) UnmarshalText(b []byte) error {
	parsed, err := ParseIPMask(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

package utils

import (
	"fmt"
	"net/netip"
	"strings"
)

// Address families, matching netlink.FAMILY_V4 / FAMILY_V6.
const (
	FamilyV4 = 2
	FamilyV6 = 10
)

// FamilyOf returns FamilyV4 or FamilyV6 for an address or prefix literal.
func FamilyOf(s string) (int, error) {
	p, err := ParseAddrOrPrefix(s)
	if err != nil {
		return 0, err
	}
	if p.Addr().Is4() {
		return FamilyV4, nil
	}
	return FamilyV6, nil
}

// ParseAddrOrPrefix accepts "10.0.0.0/8" or a bare address, which becomes a
// host prefix (/32 or /128). IPv4-mapped IPv6 addresses are unmapped.
func ParseAddrOrPrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid subnet %q: %w", s, err)
		}
		if p.Addr().Is4In6() {
			bitsLeft := p.Bits() - 96
			if bitsLeft < 0 {
				return netip.Prefix{}, fmt.Errorf("invalid subnet %q: mapped prefix shorter than /96", s)
			}
			p = netip.PrefixFrom(p.Addr().Unmap(), bitsLeft)
		}
		return p, nil
	}

	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// FamilyName returns "IPv4" or "IPv6".
func FamilyName(family int) string {
	if family == FamilyV6 {
		return "IPv6"
	}
	return "IPv4"
}

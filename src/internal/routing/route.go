package routing

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

// DefaultDst is the destination of a default route.
const DefaultDst = "default"

type RouteType int

const (
	RouteUnicast RouteType = iota
	RouteUnreachable
	RouteBlackhole
	RouteProhibit
	RouteThrow
)

var kernelRouteTypes = map[RouteType]int{
	RouteUnicast:     unix.RTN_UNICAST,
	RouteUnreachable: unix.RTN_UNREACHABLE,
	RouteBlackhole:   unix.RTN_BLACKHOLE,
	RouteProhibit:    unix.RTN_PROHIBIT,
	RouteThrow:       unix.RTN_THROW,
}

var routeTypeNames = map[RouteType]string{
	RouteUnicast:     "unicast",
	RouteUnreachable: "unreachable",
	RouteBlackhole:   "blackhole",
	RouteProhibit:    "prohibit",
	RouteThrow:       "throw",
}

func (t RouteType) String() string {
	if name, ok := routeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

func (t RouteType) kernelType() int {
	if k, ok := kernelRouteTypes[t]; ok {
		return k
	}
	return unix.RTN_UNICAST
}

// routeTypeOf maps a kernel route type. Types the enforcer never copies (local,
// broadcast, multicast, ...) are reported as unknown.
func routeTypeOf(kernelType int) (RouteType, bool) {
	for t, k := range kernelRouteTypes {
		if k == kernelType {
			return t, true
		}
	}
	return RouteUnicast, false
}

// Nexthop is one path of a multipath route. Weight follows `ip route` (hops + 1).
type Nexthop struct {
	Gateway string
	Device  string
	Weight  int
	Flags   int
}

// Route is a route entry identified by a table name. Dst is DefaultDst or a
// CIDR; a bare address is treated as a host route.
type Route struct {
	Dst      string
	Gateway  string
	Device   string
	Table    string
	Metric   int
	Family   int
	Type     RouteType
	Source   string
	Scope    netlink.Scope
	Protocol netlink.RouteProtocol
	// Flags are RTNH_F_* next hop flags, e.g. onlink.
	Flags    int
	Nexthops []Nexthop
}

// String renders the route the way `ip route` prints it.
func (r Route) String() string {
	var sb strings.Builder
	if r.Family == netlink.FAMILY_V6 {
		sb.WriteString("-6 ")
	}
	if r.Type != RouteUnicast {
		sb.WriteString(r.Type.String() + " ")
	}
	sb.WriteString(r.Dst)
	if r.Gateway != "" {
		sb.WriteString(" via " + r.Gateway)
	}
	if r.Device != "" {
		sb.WriteString(" dev " + r.Device)
	}
	if r.Flags&unix.RTNH_F_ONLINK != 0 {
		sb.WriteString(" onlink")
	}
	if r.Source != "" {
		sb.WriteString(" src " + r.Source)
	}
	sb.WriteString(" table " + r.Table)
	if r.Metric != 0 {
		sb.WriteString(fmt.Sprintf(" metric %d", r.Metric))
	}
	for _, nh := range r.Nexthops {
		sb.WriteString(" nexthop")
		if nh.Gateway != "" {
			sb.WriteString(" via " + nh.Gateway)
		}
		if nh.Device != "" {
			sb.WriteString(" dev " + nh.Device)
		}
		if nh.Weight > 0 {
			sb.WriteString(fmt.Sprintf(" weight %d", nh.Weight))
		}
		if nh.Flags&unix.RTNH_F_ONLINK != 0 {
			sb.WriteString(" onlink")
		}
	}
	return sb.String()
}

// family returns the explicit family or infers it from the destination and gateway.
func (r Route) family() (int, error) {
	if r.Family != 0 {
		return r.Family, nil
	}
	if r.Dst != DefaultDst {
		return utils.FamilyOf(r.Dst)
	}
	if r.Gateway != "" {
		return utils.FamilyOf(r.Gateway)
	}
	for _, nh := range r.Nexthops {
		if nh.Gateway != "" {
			return utils.FamilyOf(nh.Gateway)
		}
	}
	return netlink.FAMILY_V4, nil
}

func (r Route) dst(family int) (*net.IPNet, error) {
	if r.Dst == DefaultDst || r.Dst == "" {
		if family == netlink.FAMILY_V6 {
			return &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}, nil
		}
		return &net.IPNet{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)}, nil
	}
	p, err := utils.ParseAddrOrPrefix(r.Dst)
	if err != nil {
		return nil, err
	}
	return prefixToIPNet(p.Masked()), nil
}

func prefixToIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

// isDefaultDst reports whether a kernel route destination denotes the default route.
func isDefaultDst(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0
}

func sameDst(a, b *net.IPNet) bool {
	if isDefaultDst(a) || isDefaultDst(b) {
		return isDefaultDst(a) && isDefaultDst(b)
	}
	aOnes, aBits := a.Mask.Size()
	bOnes, bBits := b.Mask.Size()
	return aOnes == bOnes && aBits == bBits && a.IP.Equal(b.IP)
}

package routing

import (
	"errors"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

// Manager implements table, rule and route primitives on top of a Netlinker.
// Tables are addressed by name and resolved through the TableAllocator on every call.
type Manager struct {
	nl     Netlinker
	tables *TableAllocator
}

func NewManager(nl Netlinker, tables *TableAllocator) *Manager {
	return &Manager{nl: nl, tables: tables}
}

func (m *Manager) Tables() *TableAllocator {
	return m.tables
}

// CreateTable returns the ID of the named table, allocating one of the given kind
// if needed.
func (m *Manager) CreateTable(name string, kind TableKind) (int, error) {
	return m.tables.Create(name, kind)
}

// TableID resolves an existing table name.
func (m *Manager) TableID(name string) (int, error) {
	id, ok, err := m.tables.Lookup(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return id, nil
}

// RemoveTable flushes the table and releases its ID.
func (m *Manager) RemoveTable(name string) error {
	var result *multierror.Error
	if _, ok, _ := m.tables.Lookup(name); ok {
		if err := m.FlushTable(name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if _, err := m.tables.Remove(name); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// FlushTable deletes every IPv4 and IPv6 route in the table.
func (m *Manager) FlushTable(name string) error {
	id, err := m.TableID(name)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		routes, err := m.nl.RouteListFiltered(family, &netlink.Route{Table: id}, netlink.RT_FILTER_TABLE)
		if err != nil {
			if isFamilyUnsupported(err) {
				continue
			}
			result = multierror.Append(result, fmt.Errorf("list routes of table %s: %w", name, err))
			continue
		}
		for i := range routes {
			route := routes[i]
			if route.Dst == nil {
				// netlink reports default routes without Dst, deletion needs it
				route.Dst = zeroDst(family)
			}
			if err := m.nl.RouteDel(&route); err != nil && !isNotFound(err) {
				result = multierror.Append(result, fmt.Errorf("delete route %s from table %s: %w", route.Dst, name, err))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	log.Debugf("Flushed routing table %s", name)
	return nil
}

func zeroDst(family int) *net.IPNet {
	if family == netlink.FAMILY_V6 {
		return &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}
	}
	return &net.IPNet{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)}
}

// AddRule installs the rule unless an identical one exists.
func (m *Manager) AddRule(r Rule) error {
	exists, err := m.RuleExists(r)
	if err != nil {
		return err
	}
	if exists {
		log.Debugf("IP rule [%v] already exists", r)
		return nil
	}

	nr, err := m.rule(r)
	if err != nil {
		return err
	}
	log.Debugf("Adding IP rule [%v]", r)
	if err := m.nl.RuleAdd(nr); err != nil && !errors.Is(err, unix.EEXIST) {
		if isFamilyUnsupported(err) {
			log.Debugf("Skipping IP rule [%v]: address family not supported", r)
			return nil
		}
		return fmt.Errorf("add rule [%v]: %w", r, err)
	}
	return nil
}

// RemoveRule deletes the rule if present.
func (m *Manager) RemoveRule(r Rule) error {
	nr, err := m.rule(r)
	if err != nil {
		return err
	}
	log.Debugf("Deleting IP rule [%v]", r)
	if err := m.nl.RuleDel(nr); err != nil {
		if isNotFound(err) || isFamilyUnsupported(err) {
			return nil
		}
		return fmt.Errorf("delete rule [%v]: %w", r, err)
	}
	return nil
}

func (m *Manager) RuleExists(r Rule) (bool, error) {
	nr, err := m.rule(r)
	if err != nil {
		return false, err
	}
	rules, err := m.nl.RuleListFiltered(nr.Family, nr, netlink.RT_FILTER_TABLE|netlink.RT_FILTER_PRIORITY)
	if err != nil {
		if isFamilyUnsupported(err) {
			return false, nil
		}
		return false, fmt.Errorf("list rules: %w", err)
	}
	for _, kr := range rules {
		if r.matches(kr) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) rule(r Rule) (*netlink.Rule, error) {
	id, err := m.TableID(r.Table)
	if err != nil {
		return nil, err
	}
	return r.toNetlink(id), nil
}

// AddRoute installs the route. An already existing route is not an error.
func (m *Manager) AddRoute(r Route) error {
	nr, err := m.route(r)
	if err != nil {
		return err
	}
	log.Debugf("Adding IP route [%v]", r)
	if err := m.nl.RouteAdd(nr); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil
		}
		if isFamilyUnsupported(err) {
			log.Debugf("Skipping IP route [%v]: address family not supported", r)
			return nil
		}
		return fmt.Errorf("add route [%v]: %w", r, err)
	}
	return nil
}

// RemoveRoute deletes the route. A missing route is not an error.
func (m *Manager) RemoveRoute(r Route) error {
	nr, err := m.route(r)
	if err != nil {
		return err
	}
	log.Debugf("Deleting IP route [%v]", r)
	if err := m.nl.RouteDel(nr); err != nil {
		if isNotFound(err) || isFamilyUnsupported(err) {
			return nil
		}
		return fmt.Errorf("delete route [%v]: %w", r, err)
	}
	return nil
}

// RouteExists looks for a route with the same destination and type in the table.
// Gateway, device and metric are compared only when set on r.
func (m *Manager) RouteExists(r Route) (bool, error) {
	nr, err := m.route(r)
	if err != nil {
		return false, err
	}
	routes, err := m.nl.RouteListFiltered(nr.Family, &netlink.Route{Table: nr.Table}, netlink.RT_FILTER_TABLE)
	if err != nil {
		if isFamilyUnsupported(err) {
			return false, nil
		}
		return false, fmt.Errorf("list routes: %w", err)
	}
	for _, kr := range routes {
		if !sameDst(kr.Dst, nr.Dst) || kr.Type != nr.Type {
			continue
		}
		if nr.Gw != nil && !nr.Gw.Equal(kr.Gw) {
			continue
		}
		if nr.LinkIndex != 0 && nr.LinkIndex != kr.LinkIndex {
			continue
		}
		if nr.Priority != 0 && nr.Priority != kr.Priority {
			continue
		}
		return true, nil
	}
	return false, nil
}

// ListRoutes returns the routes of the table in the given family.
func (m *Manager) ListRoutes(table string, family int) ([]Route, error) {
	id, err := m.TableID(table)
	if err != nil {
		return nil, err
	}
	routes, err := m.nl.RouteListFiltered(family, &netlink.Route{Table: id}, netlink.RT_FILTER_TABLE)
	if err != nil {
		if isFamilyUnsupported(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list routes of table %s: %w", table, err)
	}

	result := make([]Route, 0, len(routes))
	for _, kr := range routes {
		typ, ok := routeTypeOf(kr.Type)
		if !ok {
			log.Debugf("Skipping route of kernel type %d in table %s", kr.Type, table)
			continue
		}
		r := Route{
			Dst:      DefaultDst,
			Table:    table,
			Metric:   kr.Priority,
			Family:   family,
			Type:     typ,
			Scope:    kr.Scope,
			Protocol: kr.Protocol,
			Flags:    kr.Flags,
			Device:   m.deviceName(kr.LinkIndex),
		}
		if !isDefaultDst(kr.Dst) {
			r.Dst = kr.Dst.String()
		}
		if kr.Gw != nil {
			r.Gateway = kr.Gw.String()
		}
		if kr.Src != nil {
			r.Source = kr.Src.String()
		}
		for _, nh := range kr.MultiPath {
			if nh == nil {
				continue
			}
			hop := Nexthop{
				Device: m.deviceName(nh.LinkIndex),
				Weight: nh.Hops + 1,
				Flags:  nh.Flags,
			}
			if nh.Gw != nil {
				hop.Gateway = nh.Gw.String()
			}
			r.Nexthops = append(r.Nexthops, hop)
		}
		result = append(result, r)
	}
	return result, nil
}

// deviceName resolves a link index, returning "" for 0 or a vanished link.
func (m *Manager) deviceName(index int) string {
	if index <= 0 {
		return ""
	}
	link, err := m.nl.LinkByIndex(index)
	if err != nil {
		return ""
	}
	return link.Attrs().Name
}

func (m *Manager) route(r Route) (*netlink.Route, error) {
	id, err := m.TableID(r.Table)
	if err != nil {
		return nil, err
	}
	family, err := r.family()
	if err != nil {
		return nil, err
	}
	dst, err := r.dst(family)
	if err != nil {
		return nil, err
	}

	nr := &netlink.Route{
		Table:    id,
		Family:   family,
		Dst:      dst,
		Priority: r.Metric,
		Type:     r.Type.kernelType(),
		Scope:    r.Scope,
		Protocol: r.Protocol,
		Flags:    r.Flags,
	}
	if r.Gateway != "" {
		gw := net.ParseIP(r.Gateway)
		if gw == nil {
			return nil, fmt.Errorf("invalid gateway %q", r.Gateway)
		}
		nr.Gw = gw
	}
	if r.Source != "" {
		nr.Src = net.ParseIP(r.Source)
	}
	if r.Device != "" {
		link, err := m.nl.LinkByName(r.Device)
		if err != nil {
			return nil, fmt.Errorf("lookup device %s: %w", r.Device, err)
		}
		nr.LinkIndex = link.Attrs().Index
	}
	for _, nh := range r.Nexthops {
		info := &netlink.NexthopInfo{Flags: nh.Flags}
		if nh.Weight > 1 {
			info.Hops = nh.Weight - 1
		}
		if nh.Gateway != "" {
			if info.Gw = net.ParseIP(nh.Gateway); info.Gw == nil {
				return nil, fmt.Errorf("invalid nexthop gateway %q", nh.Gateway)
			}
		}
		if nh.Device != "" {
			link, err := m.nl.LinkByName(nh.Device)
			if err != nil {
				return nil, fmt.Errorf("lookup nexthop device %s: %w", nh.Device, err)
			}
			info.LinkIndex = link.Attrs().Index
		}
		nr.MultiPath = append(nr.MultiPath, info)
	}
	return nr, nil
}

// LinkState reports whether the interface exists and is administratively up.
func (m *Manager) LinkState(iface string) (exists bool, up bool, err error) {
	link, err := m.nl.LinkByName(iface)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, unix.ENODEV) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, link.Attrs().Flags&net.FlagUp != 0, nil
}

// PeerAddress returns the IPv4 point-to-point peer address of the interface, or an
// empty string when it has none.
func (m *Manager) PeerAddress(iface string) (string, error) {
	link, err := m.nl.LinkByName(iface)
	if err != nil {
		return "", err
	}
	addrs, err := m.nl.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if a.Peer != nil && a.Peer.IP != nil {
			return a.Peer.IP.String(), nil
		}
	}
	return "", nil
}

func isNotFound(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ESRCH)
}

// isFamilyUnsupported is true when the kernel has the address family disabled,
// typically IPv6 on boxes booted with ipv6.disable=1.
func isFamilyUnsupported(err error) bool {
	return errors.Is(err, unix.EAFNOSUPPORT) || errors.Is(err, unix.EOPNOTSUPP)
}

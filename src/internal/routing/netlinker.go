package routing

import "github.com/vishvananda/netlink"

// Netlinker is the subset of the netlink API the routing primitives use.
// It exists so the primitives can be tested without touching kernel state.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)

	RouteAdd(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
	RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error)

	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error
	RuleListFiltered(family int, filter *netlink.Rule, filterMask uint64) ([]netlink.Rule, error)
}

type kernelNetlinker struct{}

// KernelNetlinker returns a Netlinker bound to the host network namespace.
func KernelNetlinker() Netlinker {
	return kernelNetlinker{}
}

func (kernelNetlinker) LinkByName(name string) (netlink.Link, error) {
	return netlink.LinkByName(name)
}

func (kernelNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return netlink.LinkByIndex(index)
}

func (kernelNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

func (kernelNetlinker) RouteAdd(route *netlink.Route) error {
	return netlink.RouteAdd(route)
}

func (kernelNetlinker) RouteDel(route *netlink.Route) error {
	return netlink.RouteDel(route)
}

func (kernelNetlinker) RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error) {
	return netlink.RouteListFiltered(family, filter, filterMask)
}

func (kernelNetlinker) RuleAdd(rule *netlink.Rule) error {
	return netlink.RuleAdd(rule)
}

func (kernelNetlinker) RuleDel(rule *netlink.Rule) error {
	return netlink.RuleDel(rule)
}

func (kernelNetlinker) RuleListFiltered(family int, filter *netlink.Rule, filterMask uint64) ([]netlink.Rule, error) {
	return netlink.RuleListFiltered(family, filter, filterMask)
}

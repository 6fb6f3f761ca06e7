package routing

import (
	"net"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// fakeNetlinker keeps rules and routes in memory and mimics the kernel's
// EEXIST / ESRCH / ENOENT answers.
type fakeNetlinker struct {
	mu         sync.Mutex
	links      map[string]netlink.Link
	addrs      map[string][]netlink.Addr
	routes     []netlink.Route
	rules      []netlink.Rule
	v6Disabled bool
}

func newFakeNetlinker(ifaces ...string) *fakeNetlinker {
	f := &fakeNetlinker{
		links: map[string]netlink.Link{},
		addrs: map[string][]netlink.Addr{},
	}
	for i, name := range ifaces {
		f.links[name] = &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name, Index: i + 1, Flags: net.FlagUp}}
	}
	return f
}

func (f *fakeNetlinker) LinkByName(name string) (netlink.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.links[name]; ok {
		return l, nil
	}
	return nil, unix.ENODEV
}

func (f *fakeNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.Attrs().Index == index {
			return l, nil
		}
	}
	return nil, unix.ENODEV
}

func (f *fakeNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addrs[link.Attrs().Name], nil
}

func (f *fakeNetlinker) RouteAdd(route *netlink.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if route.Family == netlink.FAMILY_V6 && f.v6Disabled {
		return unix.EAFNOSUPPORT
	}
	for _, r := range f.routes {
		if r.Table == route.Table && r.Family == route.Family && sameDst(r.Dst, route.Dst) &&
			r.Priority == route.Priority && r.Type == route.Type {
			return unix.EEXIST
		}
	}
	f.routes = append(f.routes, *route)
	return nil
}

func (f *fakeNetlinker) RouteDel(route *netlink.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if route.Family == netlink.FAMILY_V6 && f.v6Disabled {
		return unix.EAFNOSUPPORT
	}
	for i, r := range f.routes {
		if r.Table != route.Table || !sameDst(r.Dst, route.Dst) {
			continue
		}
		if route.Priority != 0 && r.Priority != route.Priority {
			continue
		}
		if route.Gw != nil && !route.Gw.Equal(r.Gw) {
			continue
		}
		if route.LinkIndex != 0 && route.LinkIndex != r.LinkIndex {
			continue
		}
		f.routes = append(f.routes[:i], f.routes[i+1:]...)
		return nil
	}
	return unix.ESRCH
}

func (f *fakeNetlinker) RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if family == netlink.FAMILY_V6 && f.v6Disabled {
		return nil, unix.EAFNOSUPPORT
	}
	var out []netlink.Route
	for _, r := range f.routes {
		if r.Family != family {
			continue
		}
		if filterMask&netlink.RT_FILTER_TABLE != 0 && r.Table != filter.Table {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func ruleKeyEqual(a, b netlink.Rule) bool {
	if a.Family != b.Family || a.Table != b.Table || a.Priority != b.Priority || a.IifName != b.IifName || a.Mark != b.Mark {
		return false
	}
	if (a.Mask == nil) != (b.Mask == nil) {
		return false
	}
	return a.Mask == nil || *a.Mask == *b.Mask
}

func (f *fakeNetlinker) RuleAdd(rule *netlink.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rule.Family == netlink.FAMILY_V6 && f.v6Disabled {
		return unix.EAFNOSUPPORT
	}
	for _, r := range f.rules {
		if ruleKeyEqual(r, *rule) {
			return unix.EEXIST
		}
	}
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *fakeNetlinker) RuleDel(rule *netlink.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rules {
		if ruleKeyEqual(r, *rule) {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return unix.ENOENT
}

func (f *fakeNetlinker) RuleListFiltered(family int, filter *netlink.Rule, filterMask uint64) ([]netlink.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if family == netlink.FAMILY_V6 && f.v6Disabled {
		return nil, unix.EAFNOSUPPORT
	}
	var out []netlink.Rule
	for _, r := range f.rules {
		if r.Family != family {
			continue
		}
		if filterMask&netlink.RT_FILTER_TABLE != 0 && r.Table != filter.Table {
			continue
		}
		if filterMask&netlink.RT_FILTER_PRIORITY != 0 && r.Priority != filter.Priority {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeNetlinker) routesIn(table int) []netlink.Route {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []netlink.Route
	for _, r := range f.routes {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

// mockNetlinker is used where a test needs to inject specific kernel errors.
type mockNetlinker struct {
	mock.Mock
}

func (m *mockNetlinker) LinkByName(name string) (netlink.Link, error) {
	args := m.Called(name)
	if l := args.Get(0); l != nil {
		return l.(netlink.Link), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	args := m.Called(index)
	if l := args.Get(0); l != nil {
		return l.(netlink.Link), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	args := m.Called(link, family)
	return args.Get(0).([]netlink.Addr), args.Error(1)
}

func (m *mockNetlinker) RouteAdd(route *netlink.Route) error {
	return m.Called(route).Error(0)
}

func (m *mockNetlinker) RouteDel(route *netlink.Route) error {
	return m.Called(route).Error(0)
}

func (m *mockNetlinker) RouteListFiltered(family int, filter *netlink.Route, filterMask uint64) ([]netlink.Route, error) {
	args := m.Called(family, filter, filterMask)
	return args.Get(0).([]netlink.Route), args.Error(1)
}

func (m *mockNetlinker) RuleAdd(rule *netlink.Rule) error {
	return m.Called(rule).Error(0)
}

func (m *mockNetlinker) RuleDel(rule *netlink.Rule) error {
	return m.Called(rule).Error(0)
}

func (m *mockNetlinker) RuleListFiltered(family int, filter *netlink.Rule, filterMask uint64) ([]netlink.Rule, error) {
	args := m.Called(family, filter, filterMask)
	return args.Get(0).([]netlink.Rule), args.Error(1)
}

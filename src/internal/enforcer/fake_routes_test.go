package enforcer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

var errInjected = errors.New("injected failure")

// fakeRoutes keeps tables, rules and routes in memory. Rules and routes are keyed by
// their String form, which is what the enforcer builds identically on every call.
type fakeRoutes struct {
	mu sync.Mutex

	tables    map[string]int
	nextIndex int

	rules  map[string]routing.Rule
	routes map[string]routing.Route

	// fail makes the named method fail ("CreateTable", "AddRoute", ...).
	fail map[string]bool
	// failDst makes AddRoute fail for the given destination only.
	failDst map[string]bool

	calls []string
}

func newFakeRoutes() *fakeRoutes {
	return &fakeRoutes{
		tables: map[string]int{
			"main":         254,
			"wan_routable": 0x1,
			"global_local": 0x3,
			"lan_routable": 0x2,
		},
		nextIndex: 1,
		rules:     map[string]routing.Rule{},
		routes:    map[string]routing.Route{},
		fail:      map[string]bool{},
		failDst:   map[string]bool{},
	}
}

// seedMain adds a route to the main table.
func (f *fakeRoutes) seedMain(r routing.Route) {
	r.Table = "main"
	if r.Family == 0 {
		r.Family = utils.FamilyV4
	}
	f.routes[r.String()] = r
}

func (f *fakeRoutes) record(call string) error {
	f.calls = append(f.calls, call)
	if f.fail[call] {
		return errInjected
	}
	return nil
}

func (f *fakeRoutes) knownTable(name string) error {
	if _, ok := f.tables[name]; !ok {
		return fmt.Errorf("%w: %s", routing.ErrTableNotFound, name)
	}
	return nil
}

func (f *fakeRoutes) CreateTable(name string, kind routing.TableKind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateTable"); err != nil {
		return 0, err
	}
	if id, ok := f.tables[name]; ok {
		return id, nil
	}
	id := f.nextIndex << 16
	f.nextIndex++
	f.tables[name] = id
	return id, nil
}

func (f *fakeRoutes) TableID(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TableID"); err != nil {
		return 0, err
	}
	if err := f.knownTable(name); err != nil {
		return 0, err
	}
	return f.tables[name], nil
}

func (f *fakeRoutes) RemoveTable(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveTable"); err != nil {
		return err
	}
	f.flush(name)
	delete(f.tables, name)
	return nil
}

func (f *fakeRoutes) FlushTable(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FlushTable"); err != nil {
		return err
	}
	if err := f.knownTable(name); err != nil {
		return err
	}
	f.flush(name)
	return nil
}

func (f *fakeRoutes) flush(name string) {
	for k, r := range f.routes {
		if r.Table == name {
			delete(f.routes, k)
		}
	}
}

func (f *fakeRoutes) AddRule(r routing.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddRule"); err != nil {
		return err
	}
	if err := f.knownTable(r.Table); err != nil {
		return err
	}
	f.rules[r.String()] = r
	return nil
}

func (f *fakeRoutes) RemoveRule(r routing.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveRule"); err != nil {
		return err
	}
	if err := f.knownTable(r.Table); err != nil {
		return err
	}
	delete(f.rules, r.String())
	return nil
}

func (f *fakeRoutes) RuleExists(r routing.Rule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rules[r.String()]
	return ok, nil
}

func (f *fakeRoutes) AddRoute(r routing.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddRoute"); err != nil {
		return err
	}
	if f.failDst[r.Dst] {
		return errInjected
	}
	if err := f.knownTable(r.Table); err != nil {
		return err
	}
	f.routes[r.String()] = r
	return nil
}

func (f *fakeRoutes) RemoveRoute(r routing.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveRoute"); err != nil {
		return err
	}
	delete(f.routes, r.String())
	return nil
}

func (f *fakeRoutes) RouteExists(r routing.Route) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.routes[r.String()]
	return ok, nil
}

func (f *fakeRoutes) ListRoutes(table string, family int) ([]routing.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListRoutes"); err != nil {
		return nil, err
	}
	var out []routing.Route
	for _, r := range f.routes {
		if r.Table == table && r.Family == family {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRoutes) hasRule(r routing.Rule) bool {
	ok, _ := f.RuleExists(r)
	return ok
}

func (f *fakeRoutes) hasRoute(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.routes[s]
	return ok
}

// routesIn returns the sorted String form of every route of the table.
func (f *fakeRoutes) routesIn(table string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k, r := range f.routes {
		if r.Table == table {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeRoutes) ruleKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.rules))
	for k := range f.rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeRoutes) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

package enforcer

import (
	"fmt"
	"math/bits"
	"net/netip"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/config"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/errors"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/metrics"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/netfilter"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/platform"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

// TablePrefix is prepended to the interface name to form the VPN client routing table name.
const TablePrefix = "vpn_client_"

// RoutingPrimitives is the routing surface used by the Enforcer. *routing.Manager implements it.
type RoutingPrimitives interface {
	CreateTable(name string, kind routing.TableKind) (int, error)
	TableID(name string) (int, error)
	RemoveTable(name string) error
	FlushTable(name string) error
	AddRule(r routing.Rule) error
	RemoveRule(r routing.Rule) error
	RuleExists(r routing.Rule) (bool, error)
	AddRoute(r routing.Route) error
	RemoveRoute(r routing.Route) error
	RouteExists(r routing.Route) (bool, error)
	ListRoutes(table string, family int) ([]routing.Route, error)
}

// FilterPrimitives is the packet filter surface used by the Enforcer. *netfilter.Runner implements it.
type FilterPrimitives interface {
	Append(rule netfilter.Rule) error
	Insert(rule netfilter.Rule) error
	Delete(rule netfilter.Rule) error
	Exists(rule netfilter.Rule) (bool, error)
}

// Settings are the numeric and naming constants of the enforced layout.
type Settings struct {
	VCMask  uint32
	AllMask uint32

	EgressPriority int
	GrantPriority  int

	WANRoutableTable string
	GlobalLocalTable string
	LANRoutableTable string

	StrictChain  string
	DNSChain     string
	InboundChain string
	MonitoredSet string

	CopyConcurrency int
}

// DefaultSettings matches the defaults of a freshly generated configuration.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		VCMask:           uint32(cfg.Routing.VCMask),
		AllMask:          uint32(cfg.Routing.AllMask),
		EgressPriority:   cfg.Routing.EgressPriority,
		GrantPriority:    cfg.Routing.GrantPriority,
		WANRoutableTable: cfg.Routing.WANRoutableTable,
		GlobalLocalTable: cfg.Routing.GlobalLocalTable,
		LANRoutableTable: cfg.Routing.LANRoutableTable,
		StrictChain:      cfg.Netfilter.StrictChain,
		DNSChain:         cfg.Netfilter.DNSChain,
		InboundChain:     cfg.Netfilter.InboundChain,
		MonitoredSet:     cfg.Netfilter.MonitoredSet,
		CopyConcurrency:  cfg.Routing.CopyConcurrency,
	}
}

// Enforcer applies and removes the routing and filtering layout of VPN clients.
// It holds no per-interface state.
type Enforcer struct {
	routes   RoutingPrimitives
	filter   FilterPrimitives
	platform platform.Capabilities
	settings Settings
	metrics  *metrics.Registry
}

type Option func(*Enforcer)

// WithMetrics records primitive and operation outcomes in reg. A nil reg disables metrics.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Enforcer) {
		e.metrics = reg
	}
}

func New(routes RoutingPrimitives, filter FilterPrimitives, caps platform.Capabilities, settings Settings, opts ...Option) *Enforcer {
	e := &Enforcer{
		routes:   routes,
		filter:   filter,
		platform: caps,
		settings: settings,
		metrics:  metrics.Get(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.settings.CopyConcurrency < 1 {
		e.settings.CopyConcurrency = 1
	}
	return e
}

func (e *Enforcer) Settings() Settings {
	return e.settings
}

// TableName returns the routing table name of the VPN client on iface.
func TableName(iface string) string {
	return TablePrefix + iface
}

// RoutingTableID returns the table ID bound to the VPN client on iface, allocating it
// if needed.
func (e *Enforcer) RoutingTableID(iface string) (int, error) {
	if iface == "" {
		return 0, errors.ErrInterfaceNotSpecified
	}
	name := TableName(iface)
	var id int
	o := e.call(primTableCreate, tableRef(name), func() error {
		var err error
		id, err = e.routes.CreateTable(name, routing.KindVPNClient)
		return err
	})
	if !o.ok() {
		return 0, errors.NewAllocationError(fmt.Sprintf("failed to allocate routing table %s", name), o.err)
	}
	return id, nil
}

// DestroyRoutingTable flushes the VPN client table and returns its ID to the allocator.
func (e *Enforcer) DestroyRoutingTable(iface string) error {
	if iface == "" {
		return errors.ErrInterfaceNotSpecified
	}
	err := e.routes.RemoveTable(TableName(iface))
	e.observe("destroy_table", err)
	if err != nil {
		return errors.NewRoutingError(fmt.Sprintf("failed to remove routing table %s", TableName(iface)), err)
	}
	log.With(scope(iface)).Infof("Routing table %s removed", TableName(iface))
	return nil
}

// DeriveMetric returns the route metric used for a VPN client table ID: the table index
// within the mask. Distinct VPN client tables always get distinct metrics.
func DeriveMetric(mask uint32, rtID int) int {
	return rtID >> bits.TrailingZeros32(mask)
}

// NormalizeSubnet parses an address or CIDR and returns its canonical network prefix.
// A bare address becomes a host prefix.
func NormalizeSubnet(s string) (netip.Prefix, error) {
	p, err := utils.ParseAddrOrPrefix(s)
	if err != nil {
		return netip.Prefix{}, errors.NewInputError("malformed subnet", err)
	}
	return p.Masked(), nil
}

func (e *Enforcer) observe(operation string, err error) {
	if e.metrics != nil {
		e.metrics.ObserveOperation(operation, err)
	}
}

func scope(iface string) string {
	return "[vpn_client " + iface + "]"
}

type tableRef string

func (t tableRef) String() string {
	return "table " + string(t)
}

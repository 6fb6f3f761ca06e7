package commands

import (
	"flag"
	"fmt"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/config"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/enforcer"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/netfilter"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/platform"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/vpnclient"
)

type Runner interface {
	Init(args []string, globalArgs *AppContext) error
	Run() error
	Name() string
}

type AppContext struct {
	ConfigPath string
	Verbose    bool

	// Build information reported by the API.
	Version string
	Commit  string
	Date    string
}

// loadAndValidateConfigOrFail loads configuration from file and validates it.
func loadAndValidateConfigOrFail(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return cfg, nil
}

// backend is the set of kernel-facing collaborators built from a configuration.
type backend struct {
	cfg      *config.Config
	routes   *routing.Manager
	filter   *netfilter.Runner
	enforcer *enforcer.Enforcer
}

func newBackend(cfg *config.Config) (*backend, error) {
	filter, err := netfilter.NewRunner()
	if err != nil {
		return nil, err
	}

	tables := routing.NewTableAllocator(cfg.Routing.RTTablesPath, uint32(cfg.Routing.VCMask), uint32(cfg.Routing.RegularMask))
	routes := routing.NewManager(routing.KernelNetlinker(), tables)

	return &backend{
		cfg:      cfg,
		routes:   routes,
		filter:   filter,
		enforcer: enforcer.New(routes, filter, platform.FromConfig(cfg.Platform), enforcer.SettingsFromConfig(cfg)),
	}, nil
}

// clients binds every configured profile to its output directory.
func (b *backend) clients() []*vpnclient.Client {
	clients := make([]*vpnclient.Client, 0, len(b.cfg.VPNClients))
	for _, p := range b.cfg.VPNClients {
		clients = append(clients, vpnclient.New(p, b.cfg.GetAbsOutputDir(p), b.routes))
	}
	return clients
}

// client returns the client bound to iface, or an error when no profile uses it.
func (b *backend) client(iface string) (*vpnclient.Client, error) {
	p := b.cfg.FindVPNClient(iface)
	if p == nil {
		return nil, fmt.Errorf("no VPN client profile uses interface %s", iface)
	}
	return vpnclient.New(p, b.cfg.GetAbsOutputDir(p), b.routes), nil
}

// clientFlags are shared by the per-interface commands.
type clientFlags struct {
	Interface string
	RemoteIP  string
	Subnets   string
	DNS       string
	Override  bool
}

func (f *clientFlags) register(fs *flag.FlagSet, withRoutes, withDNS bool) {
	fs.StringVar(&f.Interface, "interface", "", "VPN interface (e.g. tun0)")
	if withRoutes || withDNS {
		fs.StringVar(&f.RemoteIP, "remote-ip", "", "Tunnel remote address (default: from profile or interface peer)")
	}
	if withRoutes {
		fs.StringVar(&f.Subnets, "subnets", "", "Comma-separated subnets to route (default: from VPN client output)")
		fs.BoolVar(&f.Override, "override-default", true, "Route all marked traffic through the tunnel")
	}
	if withDNS {
		fs.StringVar(&f.DNS, "dns", "", "Comma-separated DNS servers (default: from VPN client output)")
	}
}

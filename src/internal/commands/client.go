package commands

import (
	"flag"
	"fmt"
	"strings"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/vpnclient"
)

// clientArgs are the resolved inputs of a per-interface command. Explicit flags win over
// the profile bound to the interface.
type clientArgs struct {
	Interface string
	RemoteIP  string
	Subnets   []string
	DNS       []string
	Override  bool
}

type clientAction func(b *backend, args clientArgs) error

// ClientCommand runs one enforcement operation against a single VPN interface.
type ClientCommand struct {
	fs     *flag.FlagSet
	ctx    *AppContext
	b      *backend
	flags  clientFlags
	action clientAction
}

func newClientCommand(name string, withRoutes, withDNS bool, action clientAction) *ClientCommand {
	c := &ClientCommand{
		fs:     flag.NewFlagSet(name, flag.ExitOnError),
		action: action,
	}
	c.flags.register(c.fs, withRoutes, withDNS)
	return c
}

// CreateEnforceCommand installs the routing layout of a VPN client.
func CreateEnforceCommand() *ClientCommand {
	return newClientCommand("enforce", true, false, func(b *backend, a clientArgs) error {
		return b.enforcer.EnforceVPNClientRoutes(a.RemoteIP, a.Interface, a.Subnets, a.Override)
	})
}

// CreateFlushCommand removes the routing layout of a VPN client.
func CreateFlushCommand() *ClientCommand {
	return newClientCommand("flush", false, false, func(b *backend, a clientArgs) error {
		return b.enforcer.FlushVPNClientRoutes(a.Interface)
	})
}

func CreateStrictCommand() *ClientCommand {
	return newClientCommand("strict", false, false, func(b *backend, a clientArgs) error {
		return b.enforcer.EnforceStrictVPN(a.Interface)
	})
}

func CreateUnstrictCommand() *ClientCommand {
	return newClientCommand("unstrict", false, false, func(b *backend, a clientArgs) error {
		return b.enforcer.UnenforceStrictVPN(a.Interface)
	})
}

func CreateDNSCommand() *ClientCommand {
	return newClientCommand("dns", false, true, func(b *backend, a clientArgs) error {
		return b.enforcer.EnforceDNSRedirect(a.Interface, a.DNS, a.RemoteIP)
	})
}

func CreateUndnsCommand() *ClientCommand {
	return newClientCommand("undns", false, true, func(b *backend, a clientArgs) error {
		return b.enforcer.UnenforceDNSRedirect(a.Interface, a.DNS, a.RemoteIP)
	})
}

// CreateDestroyCommand flushes the client and releases its routing table ID.
func CreateDestroyCommand() *ClientCommand {
	return newClientCommand("destroy", false, false, func(b *backend, a clientArgs) error {
		if err := b.enforcer.FlushVPNClientRoutes(a.Interface); err != nil {
			log.Warnf("Failed to flush routes of %s: %v", a.Interface, err)
		}
		return b.enforcer.DestroyRoutingTable(a.Interface)
	})
}

func (c *ClientCommand) Name() string {
	return c.fs.Name()
}

func (c *ClientCommand) Init(args []string, ctx *AppContext) error {
	c.ctx = ctx

	if err := c.fs.Parse(args); err != nil {
		return err
	}
	if c.flags.Interface == "" {
		return fmt.Errorf("-interface is required")
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	if c.b, err = newBackend(cfg); err != nil {
		return err
	}
	return nil
}

func (c *ClientCommand) Run() error {
	args := c.resolve()
	log.Infof("Running %s on %s", c.Name(), args.Interface)
	if err := c.action(c.b, args); err != nil {
		return fmt.Errorf("%s %s: %w", c.Name(), args.Interface, err)
	}
	log.Infof("%s on %s completed", c.Name(), args.Interface)
	return nil
}

func (c *ClientCommand) resolve() clientArgs {
	explicit := map[string]bool{}
	c.fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	args := clientArgs{
		Interface: c.flags.Interface,
		RemoteIP:  c.flags.RemoteIP,
		Subnets:   splitList(c.flags.Subnets),
		DNS:       splitList(c.flags.DNS),
		Override:  c.flags.Override,
	}

	client, err := c.b.client(c.flags.Interface)
	if err != nil {
		log.Debugf("%v, using flags only", err)
		return args
	}
	fillFromClient(&args, client, explicit)
	return args
}

func fillFromClient(args *clientArgs, client *vpnclient.Client, explicit map[string]bool) {
	if !explicit["remote-ip"] {
		args.RemoteIP = client.RemoteIP()
	}
	if !explicit["subnets"] {
		args.Subnets = client.RoutedSubnets()
	}
	if !explicit["dns"] {
		args.DNS = client.DNSServers()
	}
	if !explicit["override-default"] {
		args.Override = client.Profile().ShouldOverrideDefaultRoute()
	}
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

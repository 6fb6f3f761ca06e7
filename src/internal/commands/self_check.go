package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/config"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/dnscheck"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/enforcer"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/vpnclient"
)

func CreateSelfCheckCommand() *SelfCheckCommand {
	sc := &SelfCheckCommand{
		fs: flag.NewFlagSet("self-check", flag.ExitOnError),
	}
	sc.fs.StringVar(&sc.Interface, "interface", "", "Check only this VPN interface")
	sc.fs.BoolVar(&sc.Probe, "probe", false, "Also send a test query to every resolver through the tunnel")
	sc.fs.BoolVar(&sc.ShowConfig, "show-config", true, "Print the loaded configuration")
	return sc
}

type SelfCheckCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config
	b   *backend

	Interface  string
	Probe      bool
	ShowConfig bool
}

func (g *SelfCheckCommand) Name() string {
	return g.fs.Name()
}

func (g *SelfCheckCommand) Init(args []string, ctx *AppContext) error {
	g.ctx = ctx

	if err := g.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	g.cfg = cfg

	if g.b, err = newBackend(cfg); err != nil {
		return err
	}
	return nil
}

func (g *SelfCheckCommand) Run() error {
	log.Infof("Running self-check...")

	if g.ShowConfig {
		log.Infof("---------------- Configuration START -----------------")
		buf, err := g.cfg.SerializeConfig()
		if err != nil {
			return fmt.Errorf("failed to serialize config: %w", err)
		}
		if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to output config: %w", err)
		}
		log.Infof("----------------- Configuration END ------------------")
	}

	checked := 0
	hasFailures := false
	for _, c := range g.b.clients() {
		if g.Interface != "" && c.Interface() != g.Interface {
			continue
		}
		if g.Interface == "" && !c.Profile().IsEnabled() {
			continue
		}
		checked++
		if !g.checkClient(c) {
			hasFailures = true
		}
	}

	if g.Interface != "" && checked == 0 {
		return fmt.Errorf("no VPN client profile uses interface %s", g.Interface)
	}
	if hasFailures {
		log.Errorf("Self-check completed with failures")
		return fmt.Errorf("self-check failed")
	}

	log.Infof("Self-check completed successfully")
	return nil
}

// checkClient logs every component of one client. Returns false if any check failed.
func (g *SelfCheckCommand) checkClient(c *vpnclient.Client) bool {
	log.Infof("----------------- VPN client [%s] on %s ------------------", c.Name(), c.Interface())
	defer log.Infof("----------------- VPN client [%s] END ------------------", c.Name())

	if !c.IsLinkUp() {
		log.Infof("Link is down, nothing is enforced")
		return true
	}

	opts := enforcer.InspectOptions{
		RemoteIP:        c.RemoteIP(),
		OverrideDefault: c.Profile().ShouldOverrideDefaultRoute(),
		StrictVPN:       c.Profile().StrictVPN,
		DNSServers:      c.DNSServers(),
	}
	components, err := g.b.enforcer.Inspect(c.Interface(), opts)
	if err != nil {
		log.Errorf("Failed to inspect %s: %v", c.Interface(), err)
		return false
	}

	ok := true
	for _, st := range enforcer.CheckComponents(components) {
		msg := componentMessage(st)
		if st.OK {
			log.Infof("[%s] %s: %s", st.Type, st.Description, msg)
			continue
		}
		log.Errorf("[%s] %s: %s", st.Type, st.Description, msg)
		log.Infof("  fix: %s", st.Command)
		ok = false
	}

	if g.Probe && len(opts.DNSServers) > 0 {
		rtID, err := g.b.enforcer.RoutingTableID(c.Interface())
		if err != nil {
			log.Errorf("Failed to resolve routing table of %s: %v", c.Interface(), err)
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(len(opts.DNSServers))*dnscheck.DefaultTimeout)
		defer cancel()
		for _, res := range dnscheck.NewProber(dnscheck.WithMark(uint32(rtID))).ProbeAll(ctx, opts.DNSServers) {
			if res.OK {
				log.Infof("[dns] %s answered %s in %s", res.Server, res.Rcode, res.RTT)
			} else {
				log.Errorf("[dns] %s does not answer: %s", res.Server, res.Error)
				ok = false
			}
		}
	}
	return ok
}

func componentMessage(st enforcer.ComponentStatus) string {
	switch {
	case st.Error != "":
		return "Error checking: " + st.Error
	case st.Exists && st.ShouldExist:
		return "present"
	case !st.Exists && !st.ShouldExist:
		return "absent as expected"
	case st.Exists:
		return "present but should NOT be (stale)"
	default:
		return "MISSING"
	}
}

package commands

import (
	"flag"

	"github.com/hashicorp/go-multierror"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/config"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/netfilter"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

type chainSpec struct {
	table  string
	chain  string
	parent string
}

// chainLayout lists the chains the enforcer writes into and where they are jumped from.
func chainLayout(cfg *config.NetfilterConfig) []chainSpec {
	return []chainSpec{
		{table: netfilter.TableFilter, chain: cfg.StrictChain, parent: "FORWARD"},
		{table: netfilter.TableNat, chain: cfg.DNSChain, parent: "PREROUTING"},
		{table: netfilter.TableNat, chain: cfg.InboundChain, parent: "PREROUTING"},
	}
}

// ensureChains creates every chain for both families. IPv6 is skipped when ip6tables
// is unavailable.
func ensureChains(filter *netfilter.Runner, cfg *config.NetfilterConfig) error {
	var result *multierror.Error
	for _, family := range []int{utils.FamilyV4, utils.FamilyV6} {
		for _, c := range chainLayout(cfg) {
			if err := filter.EnsureChain(family, c.table, c.chain, c.parent); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func teardownChains(filter *netfilter.Runner, cfg *config.NetfilterConfig) error {
	var result *multierror.Error
	for _, family := range []int{utils.FamilyV4, utils.FamilyV6} {
		for _, c := range chainLayout(cfg) {
			if err := filter.TeardownChain(family, c.table, c.chain, c.parent); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func CreateSetupChainsCommand() *SetupChainsCommand {
	sc := &SetupChainsCommand{
		fs: flag.NewFlagSet("setup-chains", flag.ExitOnError),
	}
	sc.fs.BoolVar(&sc.Teardown, "teardown", false, "Remove the chains and their jumps instead")
	return sc
}

// SetupChainsCommand creates the iptables chains used by the enforcer. On boxes where a
// router-management service owns these chains it is not needed.
type SetupChainsCommand struct {
	fs       *flag.FlagSet
	ctx      *AppContext
	cfg      *config.Config
	filter   *netfilter.Runner
	Teardown bool
}

func (s *SetupChainsCommand) Name() string {
	return s.fs.Name()
}

func (s *SetupChainsCommand) Init(args []string, ctx *AppContext) error {
	s.ctx = ctx

	if err := s.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	s.cfg = cfg

	if s.filter, err = netfilter.NewRunner(); err != nil {
		return err
	}
	return nil
}

func (s *SetupChainsCommand) Run() error {
	if s.Teardown {
		log.Infof("Removing enforcer chains...")
		return teardownChains(s.filter, s.cfg.Netfilter)
	}
	log.Infof("Creating enforcer chains...")
	if err := ensureChains(s.filter, s.cfg.Netfilter); err != nil {
		return err
	}
	log.Infof("Chains are ready")
	return nil
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/commands"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

var (
	version = "dev"
	commit  = "n/a"
	date    = "n/a"
)

func main() {
	ctx := &commands.AppContext{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	flag.StringVar(&ctx.ConfigPath, "config", "/opt/etc/vpnc-enforcer/vpnc-enforcer.conf", "Path to configuration file")
	flag.BoolVar(&ctx.Verbose, "verbose", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "VPN Client Routing Enforcer\n")
		fmt.Fprintf(os.Stderr, "Version: %s (Commit: %s, Date: %s)\n\n", version, commit, date)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [command options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  service                 Supervise VPN client profiles (includes control API)\n")
		fmt.Fprintf(os.Stderr, "  enforce                 Install the routing layout of a VPN interface\n")
		fmt.Fprintf(os.Stderr, "  flush                   Remove the routing layout of a VPN interface\n")
		fmt.Fprintf(os.Stderr, "  strict                  Drop marked traffic that would leave outside the tunnel\n")
		fmt.Fprintf(os.Stderr, "  unstrict                Remove the strict VPN lock\n")
		fmt.Fprintf(os.Stderr, "  dns                     Redirect DNS of steered devices to the tunnel resolvers\n")
		fmt.Fprintf(os.Stderr, "  undns                   Remove DNS redirection\n")
		fmt.Fprintf(os.Stderr, "  destroy                 Flush a VPN interface and release its routing table ID\n")
		fmt.Fprintf(os.Stderr, "  setup-chains            Create the iptables chains used by the enforcer\n")
		fmt.Fprintf(os.Stderr, "  self-check              Run self-check\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if ctx.Verbose {
		log.SetVerbose(true)
	}

	if _, err := os.Stat(ctx.ConfigPath); errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Configuration file not found: %s", ctx.ConfigPath)
	}

	cmds := []commands.Runner{
		commands.CreateServiceCommand(),
		commands.CreateEnforceCommand(),
		commands.CreateFlushCommand(),
		commands.CreateStrictCommand(),
		commands.CreateUnstrictCommand(),
		commands.CreateDNSCommand(),
		commands.CreateUndnsCommand(),
		commands.CreateDestroyCommand(),
		commands.CreateSetupChainsCommand(),
		commands.CreateSelfCheckCommand(),
	}

	args := flag.Args()

	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	subcommand := args[0]
	for _, cmd := range cmds {
		if cmd.Name() == subcommand {
			if err := cmd.Init(args[1:], ctx); err != nil {
				log.Fatalf("Failed to initialize command: %v", err)
			}

			if err := cmd.Run(); err != nil {
				log.Fatalf("Failed to run command: %v", err)
			}

			os.Exit(0)
		}
	}

	log.Fatalf("Unknown subcommand: %s", subcommand)
}

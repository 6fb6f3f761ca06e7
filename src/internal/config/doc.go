// Package config handles configuration file parsing and validation for vpnc-enforcer.
//
// The configuration is a TOML file with four fixed sections and a list of VPN
// client profiles. Every setting has a default, so an empty file is a valid
// configuration for the one-shot enforcement commands.
//
// # Configuration Structure
//
//   - [general]: verbosity, control API listen address, poll interval
//   - [platform]: managed or legacy routing model, DHCP mode
//   - [routing]: rt_tables path, fwmark masks, rule priorities, shared table names
//   - [netfilter]: iptables chain names and the monitored ipset
//   - [[vpn_client]]: tunnel interface, client output directory, strict VPN flag
//
// # Example Usage
//
//	cfg, err := config.LoadConfig("/etc/vpnc-enforcer/vpnc-enforcer.conf")
//	if err != nil {
//	    log.Fatalf("%v", err)
//	}
//	if err := cfg.ValidateConfig(); err != nil {
//	    log.Fatalf("%v", err)
//	}
//
// Marks may be written as integers or as strings:
//
//	[routing]
//	vc_mask = "0x3ff0000"
//	all_mask = 0x3ffffff
package config

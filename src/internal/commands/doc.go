// Package commands implements CLI command handlers for vpnc-enforcer.
//
// Each command implements the Runner interface:
//   - Init(): Parse arguments and load configuration
//   - Run(): Execute the command
//   - Name(): Return command name for routing
//
// # Available Commands
//
//   - service: Supervise VPN client profiles and serve the control API
//   - enforce, flush: Install or remove the routing layout of one VPN interface
//   - strict, unstrict: Install or remove the strict VPN lock
//   - dns, undns: Install or remove DNS redirection to the tunnel resolvers
//   - destroy: Flush a VPN interface and release its routing table ID
//   - setup-chains: Create the iptables chains the enforcer writes into
//   - self-check: Compare kernel state with the expected layout of every profile
//
// Per-interface commands take their inputs from the profile bound to -interface;
// explicit flags win.
package commands

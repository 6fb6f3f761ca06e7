// Package utils provides small helpers shared across vpnc-enforcer.
//
//   - Address helpers: family detection and address/prefix parsing
//   - Path helpers: resolve paths relative to the config directory
//   - File helpers: close with a warning instead of dropping the error
//   - BitSet: fixed-size integer set used by the routing table allocator
//
// Parsing a VPN client route entry:
//
//	p, err := utils.ParseAddrOrPrefix("10.8.0.1")
//	// p == 10.8.0.1/32
package utils

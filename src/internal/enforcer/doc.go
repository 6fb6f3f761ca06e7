// Package enforcer programs the kernel routing and packet filter state of VPN clients.
//
// Every operation takes the tunnel interface name and re-derives the routing table
// name, table ID, policy rules and rule specs from it on each call. Nothing is cached:
// the kernel (and the rt_tables allocator) is the only source of truth, so operations
// can be repeated, interleaved between interfaces and undone by their counterpart.
//
// Failures of individual primitives are logged and the operation carries on. The
// exceptions are table allocation in EnforceVPNClientRoutes / FlushVPNClientRoutes and
// UnenforceStrictVPN, which report failures to the caller.
package enforcer

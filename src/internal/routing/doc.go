// Package routing implements the policy routing primitives: named routing tables
// persisted in rt_tables, ip rules and routes.
//
// Tables are always addressed by name. The TableAllocator maps names to IDs and
// the Manager resolves them on every call, so no ID is cached between calls:
//
//	tables := routing.NewTableAllocator("/etc/iproute2/rt_tables", 0x3ff0000, 0xffff)
//	m := routing.NewManager(routing.KernelNetlinker(), tables)
//	id, _ := m.CreateTable("vpn_client_tun0", routing.KindVPNClient)
//	_ = m.AddRule(routing.Rule{Table: "vpn_client_tun0", Priority: 6000, Mark: uint32(id), Mask: 0x3ff0000})
//
// Adding something that exists and removing something that is absent both succeed.
package routing

// Package service supervises configured VPN client profiles.
//
// The Supervisor polls the output directory of every enabled profile and turns link
// transitions into enforcement calls:
//
//   - link up: routes, then DNS redirection, then the strict lock if the profile asks for it
//   - link down: DNS redirection removed, routes flushed; the strict lock stays so marked
//     traffic keeps failing closed while the tunnel is away
//   - layout change while up (new resolvers, subnets or remote address): the previous DNS
//     redirection is removed and the client is enforced again
//
// # Example Usage
//
//	sup := service.NewSupervisor(engine, clients, cfg.PollInterval())
//	go sup.Run(ctx)
//	...
//	_ = sup.Shutdown(true)
package service

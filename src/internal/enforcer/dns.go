package enforcer

import (
	"github.com/maksimkurb/vpnc-enforcer/src/internal/errors"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/netfilter"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

type dnsServer struct {
	index   int
	address string
	family  int
	route   routing.Route
	rules   []netfilter.Rule
}

// dnsLayout resolves the routes and rules of every valid server in order. Malformed
// servers are logged and skipped but keep their index.
func (e *Enforcer) dnsLayout(l *log.Logger, iface string, rtID int, servers []string, remoteIP string) []dnsServer {
	table := TableName(iface)
	layout := make([]dnsServer, 0, len(servers))
	for i, server := range servers {
		family, err := utils.FamilyOf(server)
		if err != nil {
			l.Warnf("Skipping DNS server %q: %v", server, err)
			continue
		}
		layout = append(layout, dnsServer{
			index:   i,
			address: server,
			family:  family,
			route:   tunnelRoute(server, family, remoteIP, iface, table, 0),
			rules:   e.dnsRules(rtID, server, i, family),
		})
	}
	return layout
}

// EnforceDNSRedirect redirects DNS queries of marked traffic to the tunnel resolvers,
// spreading new connections across servers. Servers are processed strictly in order.
func (e *Enforcer) EnforceDNSRedirect(iface string, dnsServers []string, remoteIP string) error {
	if iface == "" {
		return errors.ErrInterfaceNotSpecified
	}
	if len(dnsServers) == 0 {
		return nil
	}
	l := log.With(scope(iface))

	rtID, err := e.RoutingTableID(iface)
	if err != nil {
		l.Debugf("DNS redirect not enforced, no routing table: %v", err)
		e.observe("enforce_dns", nil)
		return nil
	}

	for _, s := range e.dnsLayout(l, iface, rtID, dnsServers, remoteIP) {
		route := s.route
		e.call(primRouteAdd, route, func() error { return e.routes.AddRoute(route) }).logAndContinue(l)
		for _, r := range s.rules {
			rule := r
			e.call(primFilterInsert, rule, func() error { return e.filter.Insert(rule) }).logAndContinue(l)
		}
		l.Debugf("DNS server %s redirected", s.address)
	}
	l.Infof("DNS redirected to %v", dnsServers)
	e.observe("enforce_dns", nil)
	return nil
}

// UnenforceDNSRedirect removes what EnforceDNSRedirect added for the same server list.
// Server routes are only removed when remoteIP is known.
func (e *Enforcer) UnenforceDNSRedirect(iface string, dnsServers []string, remoteIP string) error {
	if iface == "" {
		return errors.ErrInterfaceNotSpecified
	}
	if len(dnsServers) == 0 {
		return nil
	}
	l := log.With(scope(iface))

	rtID, err := e.RoutingTableID(iface)
	if err != nil {
		l.Debugf("DNS redirect not unenforced, no routing table: %v", err)
		e.observe("unenforce_dns", nil)
		return nil
	}

	for _, s := range e.dnsLayout(l, iface, rtID, dnsServers, remoteIP) {
		if remoteIP != "" {
			route := s.route
			e.call(primRouteRemove, route, func() error { return e.routes.RemoveRoute(route) }).logAndContinue(l)
		}
		for _, r := range s.rules {
			rule := r
			e.call(primFilterDelete, rule, func() error { return e.filter.Delete(rule) }).logAndContinue(l)
		}
	}
	l.Infof("DNS redirect to %v removed", dnsServers)
	e.observe("unenforce_dns", nil)
	return nil
}

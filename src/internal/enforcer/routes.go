package enforcer

import (
	stderrors "errors"

	"golang.org/x/sync/errgroup"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/errors"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

const mainTable = "main"

// EnforceVPNClientRoutes builds the client routing table of iface and the policy rules
// pointing at it, then routes the given subnets through the tunnel.
//
// Only a table allocation failure is returned; every other failed step is logged and
// skipped.
func (e *Enforcer) EnforceVPNClientRoutes(remoteIP, iface string, subnets []string, overrideDefault bool) error {
	if iface == "" {
		return errors.ErrInterfaceNotSpecified
	}
	l := log.With(scope(iface))
	table := TableName(iface)

	rtID, err := e.RoutingTableID(iface)
	if err != nil {
		l.Errorf("Cannot enforce routes: %v", err)
		e.observe("enforce_routes", err)
		return err
	}
	l.Infof("Enforcing routes through %s (table %s, id %d)", iface, table, rtID)

	e.call(primTableFlush, tableRef(table), func() error {
		return e.routes.FlushTable(table)
	}).logAndContinue(l)

	for _, family := range families {
		rule := e.egressRule(iface, rtID, family)
		e.call(primRuleAdd, rule, func() error { return e.routes.AddRule(rule) }).logAndContinue(l)
	}

	managed := e.platform.IsManagedRouting()
	if managed {
		wan, globalLocal := e.grantRules(iface)
		e.call(primRuleAdd, wan, func() error { return e.routes.AddRule(wan) }).logAndContinue(l)
		if e.platform.IsDHCPMode() {
			e.call(primRuleAdd, globalLocal, func() error { return e.routes.AddRule(globalLocal) }).logAndContinue(l)
		}
	} else {
		e.copyMainRoutes(l, iface, overrideDefault)
	}

	metric := DeriveMetric(e.settings.VCMask, rtID)
	for _, s := range subnets {
		prefix, err := NormalizeSubnet(s)
		if err != nil {
			l.Warnf("Skipping subnet %q: %v", s, err)
			continue
		}
		family := utils.FamilyV4
		if prefix.Addr().Is6() {
			family = utils.FamilyV6
		}
		dst := prefix.String()

		targets := []routing.Route{tunnelRoute(dst, family, remoteIP, iface, table, 0)}
		if managed {
			targets = append(targets, tunnelRoute(dst, family, remoteIP, iface, e.settings.LANRoutableTable, metric))
		}
		targets = append(targets, tunnelRoute(dst, family, remoteIP, iface, mainTable, metric))
		for _, r := range targets {
			route := r
			e.call(primRouteAdd, route, func() error { return e.routes.AddRoute(route) }).logAndContinue(l)
		}
	}

	if overrideDefault {
		for _, r := range defaultRoutes(remoteIP, iface) {
			route := r
			e.call(primRouteAdd, route, func() error { return e.routes.AddRoute(route) }).logAndContinue(l)
		}
	}

	for _, family := range families {
		rule := e.inboundRule(iface, rtID, family)
		e.call(primFilterAppend, rule, func() error { return e.filter.Append(rule) }).logAndContinue(l)
	}

	e.observe("enforce_routes", nil)
	return nil
}

// copyMainRoutes replicates the main table into the client table so that marked
// traffic still reaches local networks. The default route is left out when the client
// overrides it, and so are routes through the tunnel itself, which are added per subnet.
// Copies run concurrently and their failures are only logged.
func (e *Enforcer) copyMainRoutes(l *log.Logger, iface string, overrideDefault bool) {
	table := TableName(iface)
	var g errgroup.Group
	g.SetLimit(e.settings.CopyConcurrency)

	for _, family := range families {
		var routes []routing.Route
		o := e.call(primRouteList, tableRef(mainTable), func() error {
			var err error
			routes, err = e.routes.ListRoutes(mainTable, family)
			return err
		})
		if !o.ok() {
			o.logAndContinue(l)
			continue
		}

		for _, r := range routes {
			if overrideDefault && r.Dst == routing.DefaultDst {
				continue
			}
			if routesVia(r, iface) {
				continue
			}
			route := r
			route.Table = table
			g.Go(func() error {
				e.call(primRouteAdd, route, func() error { return e.routes.AddRoute(route) }).logAndContinue(l)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func routesVia(r routing.Route, iface string) bool {
	if r.Device == iface {
		return true
	}
	for _, nh := range r.Nexthops {
		if nh.Device == iface {
			return true
		}
	}
	return false
}

// FlushVPNClientRoutes removes the client table content, the policy rules of iface and
// its inbound marking rules. The metric-tagged subnet routes in main and lan_routable
// are not removed here: the kernel drops them only when the tunnel device goes away,
// so flushing while the tunnel is still up leaves them behind.
func (e *Enforcer) FlushVPNClientRoutes(iface string) error {
	if iface == "" {
		return errors.ErrInterfaceNotSpecified
	}
	l := log.With(scope(iface))
	table := TableName(iface)

	rtID, err := e.RoutingTableID(iface)
	if err != nil {
		l.Errorf("Cannot flush routes: %v", err)
		e.observe("flush_routes", err)
		return err
	}
	l.Infof("Flushing routes of %s (table %s)", iface, table)

	e.call(primTableFlush, tableRef(table), func() error {
		return e.routes.FlushTable(table)
	}).logAndContinue(l)

	rules := []routing.Rule{
		e.egressRule(iface, rtID, utils.FamilyV4),
		e.egressRule(iface, rtID, utils.FamilyV6),
	}
	wan, globalLocal := e.grantRules(iface)
	rules = append(rules, wan, globalLocal)
	for _, r := range rules {
		rule := r
		e.call(primRuleRemove, rule, func() error {
			err := e.routes.RemoveRule(rule)
			if stderrors.Is(err, routing.ErrTableNotFound) {
				// a table that was never registered cannot be referenced by a rule
				return nil
			}
			return err
		}).logAndContinue(l)
	}

	for _, family := range families {
		rule := e.inboundRule(iface, rtID, family)
		e.call(primFilterDelete, rule, func() error { return e.filter.Delete(rule) }).logAndContinue(l)
	}

	e.observe("flush_routes", nil)
	return nil
}

package enforcer

import (
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/netfilter"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

// Template placeholders of rule specs.
const (
	tmplRTID      = "rt_id"
	tmplVCMask    = "vc_mask"
	tmplAllMask   = "all_mask"
	tmplIface     = "iface"
	tmplSet       = "monitored_set"
	tmplProto     = "proto"
	tmplStatistic = "statistic"
	tmplServer    = "server"
)

const (
	strictRuleTmpl  = "-m mark --mark 0x{{rt_id}}/{{vc_mask}} -m set ! --match-set {{monitored_set}} dst,dst ! -o {{iface}} -j DROP"
	inboundRuleTmpl = "-i {{iface}} -j CONNMARK --set-xmark 0x{{rt_id}}/{{all_mask}}"
	dnsRuleTmpl     = "-m mark --mark 0x{{rt_id}}/{{vc_mask}} -p {{proto}} --dport 53{{statistic}} -j DNAT --to-destination {{server}}"
	statisticTmpl   = " -m statistic --mode nth --every {{every}} --packet 0"
)

var families = []int{utils.FamilyV4, utils.FamilyV6}

func renderSpec(template string, values map[string]interface{}) []string {
	t := fasttemplate.New(template, "{{", "}}")
	return strings.Fields(t.ExecuteString(values))
}

func hexMask(mask uint32) string {
	return "0x" + strconv.FormatUint(uint64(mask), 16)
}

func hexID(rtID int) string {
	return strconv.FormatUint(uint64(rtID), 16)
}

// egressRule routes traffic carrying the client fwmark into the client table.
func (e *Enforcer) egressRule(iface string, rtID, family int) routing.Rule {
	return routing.Rule{
		Table:    TableName(iface),
		Priority: e.settings.EgressPriority,
		Mark:     uint32(rtID),
		Mask:     e.settings.VCMask,
		Family:   family,
	}
}

// grantRules let traffic arriving from the tunnel consult the shared tables.
func (e *Enforcer) grantRules(iface string) (wan routing.Rule, globalLocal routing.Rule) {
	wan = routing.Rule{
		Table:    e.settings.WANRoutableTable,
		Priority: e.settings.GrantPriority,
		Iif:      iface,
		Family:   utils.FamilyV4,
	}
	globalLocal = wan
	globalLocal.Table = e.settings.GlobalLocalTable
	return wan, globalLocal
}

func (e *Enforcer) strictRule(iface string, rtID, family int) netfilter.Rule {
	return netfilter.Rule{
		Family: family,
		Table:  netfilter.TableFilter,
		Chain:  e.settings.StrictChain,
		Spec: renderSpec(strictRuleTmpl, map[string]interface{}{
			tmplRTID:   hexID(rtID),
			tmplVCMask: hexMask(e.settings.VCMask),
			tmplSet:    e.settings.MonitoredSet,
			tmplIface:  iface,
		}),
	}
}

func (e *Enforcer) inboundRule(iface string, rtID, family int) netfilter.Rule {
	return netfilter.Rule{
		Family: family,
		Table:  netfilter.TableNat,
		Chain:  e.settings.InboundChain,
		Spec: renderSpec(inboundRuleTmpl, map[string]interface{}{
			tmplIface:   iface,
			tmplRTID:    hexID(rtID),
			tmplAllMask: hexMask(e.settings.AllMask),
		}),
	}
}

// dnsRules returns the tcp and udp DNAT rules of the index-th server. Every server
// but the first only takes every (index+1)-th new connection; since rules are inserted
// at the head of the chain, later servers are evaluated first and the first server
// takes whatever is left.
func (e *Enforcer) dnsRules(rtID int, server string, index, family int) []netfilter.Rule {
	statistic := ""
	if index > 0 {
		statistic = fasttemplate.New(statisticTmpl, "{{", "}}").ExecuteString(map[string]interface{}{
			"every": strconv.Itoa(index + 1),
		})
	}

	rules := make([]netfilter.Rule, 0, 2)
	for _, proto := range []string{"tcp", "udp"} {
		rules = append(rules, netfilter.Rule{
			Family: family,
			Table:  netfilter.TableNat,
			Chain:  e.settings.DNSChain,
			Spec: renderSpec(dnsRuleTmpl, map[string]interface{}{
				tmplRTID:      hexID(rtID),
				tmplVCMask:    hexMask(e.settings.VCMask),
				tmplProto:     proto,
				tmplStatistic: statistic,
				tmplServer:    server,
			}),
		})
	}
	return rules
}

// tunnelRoute is a route through the tunnel. The gateway is only set when it belongs
// to the destination family, otherwise the route is bound to the device alone.
func tunnelRoute(dst string, family int, remoteIP, iface, table string, metric int) routing.Route {
	r := routing.Route{
		Dst:    dst,
		Device: iface,
		Table:  table,
		Metric: metric,
		Family: family,
	}
	if remoteIP != "" {
		if gwFamily, err := utils.FamilyOf(remoteIP); err == nil && gwFamily == family {
			r.Gateway = remoteIP
		}
	}
	return r
}

// defaultRoutes are the overriding default routes of the client table: the default via
// the tunnel and an unreachable default for the other family, so that marked traffic of
// that family cannot fall through to the main table.
func defaultRoutes(remoteIP, iface string) []routing.Route {
	family := utils.FamilyV4
	if remoteIP != "" {
		if f, err := utils.FamilyOf(remoteIP); err == nil {
			family = f
		}
	}
	table := TableName(iface)
	routes := []routing.Route{tunnelRoute(routing.DefaultDst, family, remoteIP, iface, table, 0)}
	if family == utils.FamilyV4 {
		routes = append(routes, routing.Route{
			Dst:    routing.DefaultDst,
			Table:  table,
			Family: utils.FamilyV6,
			Type:   routing.RouteUnreachable,
		})
	}
	return routes
}

package enforcer

import (
	"fmt"
	"strings"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/errors"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/netfilter"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

// ComponentType identifies the type of networking component
type ComponentType string

const (
	ComponentTypeIPRule   ComponentType = "ip_rule"
	ComponentTypeIPRoute  ComponentType = "ip_route"
	ComponentTypeIPTables ComponentType = "iptables"
)

// Component is one piece of kernel state the enforcer manages for a VPN client.
type Component interface {
	// IsExists checks if the component currently exists in the system
	IsExists() (bool, error)

	// ShouldExist determines if this component should be present for the inspected
	// client and platform
	ShouldExist() bool

	GetType() ComponentType

	GetDescription() string

	// GetCommand returns the CLI command for manual execution (debugging)
	GetCommand() string
}

type componentBase struct {
	componentType ComponentType
	description   string
	shouldExist   bool
}

func (c componentBase) ShouldExist() bool      { return c.shouldExist }
func (c componentBase) GetType() ComponentType { return c.componentType }
func (c componentBase) GetDescription() string { return c.description }

type ruleComponent struct {
	componentBase
	routes RoutingPrimitives
	rule   routing.Rule
}

func (c *ruleComponent) IsExists() (bool, error) { return c.routes.RuleExists(c.rule) }

func (c *ruleComponent) GetCommand() string {
	cmd := fmt.Sprintf("ip -%d rule add", ipVersion(c.rule.Family))
	if c.rule.Iif != "" {
		cmd += " iif " + c.rule.Iif
	}
	if c.rule.Mask != 0 {
		cmd += fmt.Sprintf(" fwmark 0x%x/0x%x", c.rule.Mark, c.rule.Mask)
	}
	return fmt.Sprintf("%s table %s priority %d", cmd, c.rule.Table, c.rule.Priority)
}

type routeComponent struct {
	componentBase
	routes RoutingPrimitives
	route  routing.Route
}

func (c *routeComponent) IsExists() (bool, error) { return c.routes.RouteExists(c.route) }

func (c *routeComponent) GetCommand() string {
	return fmt.Sprintf("ip -%d route add %s", ipVersion(c.route.Family), stripFamilyFlag(c.route.String()))
}

type filterComponent struct {
	componentBase
	filter FilterPrimitives
	rule   netfilter.Rule
	insert bool
}

func (c *filterComponent) IsExists() (bool, error) { return c.filter.Exists(c.rule) }

func (c *filterComponent) GetCommand() string {
	cmd := "iptables"
	if c.rule.Family == utils.FamilyV6 {
		cmd = "ip6tables"
	}
	op := "-A"
	if c.insert {
		op = "-I"
	}
	return fmt.Sprintf("%s -t %s %s %s %s", cmd, c.rule.Table, op, c.rule.Chain, strings.Join(c.rule.Spec, " "))
}

func ipVersion(family int) int {
	if family == utils.FamilyV6 {
		return 6
	}
	return 4
}

func stripFamilyFlag(s string) string {
	return strings.TrimPrefix(s, "-6 ")
}

// InspectOptions describe the expected state of the client.
type InspectOptions struct {
	RemoteIP        string
	OverrideDefault bool
	StrictVPN       bool
	DNSServers      []string
}

// Inspect lists the components the enforcer manages for iface. Unlike the enforcement
// operations it never allocates a table: an unknown table is an error.
func (e *Enforcer) Inspect(iface string, opts InspectOptions) ([]Component, error) {
	if iface == "" {
		return nil, errors.ErrInterfaceNotSpecified
	}
	table := TableName(iface)
	rtID, err := e.routes.TableID(table)
	if err != nil {
		return nil, errors.NewAllocationError(fmt.Sprintf("routing table %s is not allocated", table), err)
	}

	v6 := true
	if h, ok := e.filter.(interface{ HasIPv6() bool }); ok {
		v6 = h.HasIPv6()
	}
	managed := e.platform.IsManagedRouting()

	var components []Component
	for _, family := range families {
		components = append(components, &ruleComponent{
			componentBase: componentBase{
				componentType: ComponentTypeIPRule,
				description:   fmt.Sprintf("%s traffic marked for %s is routed by table %s", utils.FamilyName(family), iface, table),
				shouldExist:   true,
			},
			routes: e.routes,
			rule:   e.egressRule(iface, rtID, family),
		})
	}

	wan, globalLocal := e.grantRules(iface)
	components = append(components,
		&ruleComponent{
			componentBase: componentBase{
				componentType: ComponentTypeIPRule,
				description:   fmt.Sprintf("Traffic from %s may use WAN routes", iface),
				shouldExist:   managed,
			},
			routes: e.routes,
			rule:   wan,
		},
		&ruleComponent{
			componentBase: componentBase{
				componentType: ComponentTypeIPRule,
				description:   fmt.Sprintf("Traffic from %s may use WAN local networks", iface),
				shouldExist:   managed && e.platform.IsDHCPMode(),
			},
			routes: e.routes,
			rule:   globalLocal,
		},
	)

	for _, r := range defaultRoutes(opts.RemoteIP, iface) {
		desc := "Default route through the tunnel"
		if r.Type == routing.RouteUnreachable {
			desc = "Marked IPv6 traffic cannot bypass the tunnel"
		}
		components = append(components, &routeComponent{
			componentBase: componentBase{
				componentType: ComponentTypeIPRoute,
				description:   desc,
				shouldExist:   opts.OverrideDefault,
			},
			routes: e.routes,
			route:  r,
		})
	}

	for _, family := range families {
		components = append(components, &filterComponent{
			componentBase: componentBase{
				componentType: ComponentTypeIPTables,
				description:   fmt.Sprintf("%s connections arriving on %s are marked for table %s", utils.FamilyName(family), iface, table),
				shouldExist:   family == utils.FamilyV4 || v6,
			},
			filter: e.filter,
			rule:   e.inboundRule(iface, rtID, family),
		})
		components = append(components, &filterComponent{
			componentBase: componentBase{
				componentType: ComponentTypeIPTables,
				description:   fmt.Sprintf("%s marked traffic leaving outside %s is dropped", utils.FamilyName(family), iface),
				shouldExist:   opts.StrictVPN && (family == utils.FamilyV4 || v6),
			},
			filter: e.filter,
			rule:   e.strictRule(iface, rtID, family),
		})
	}

	l := log.With(scope(iface))
	for _, s := range e.dnsLayout(l, iface, rtID, opts.DNSServers, opts.RemoteIP) {
		components = append(components, &routeComponent{
			componentBase: componentBase{
				componentType: ComponentTypeIPRoute,
				description:   fmt.Sprintf("DNS server %s is reached through the tunnel", s.address),
				shouldExist:   true,
			},
			routes: e.routes,
			route:  s.route,
		})
		for _, r := range s.rules {
			components = append(components, &filterComponent{
				componentBase: componentBase{
					componentType: ComponentTypeIPTables,
					description:   fmt.Sprintf("DNS queries are redirected to %s", s.address),
					shouldExist:   s.family == utils.FamilyV4 || v6,
				},
				filter: e.filter,
				rule:   r,
				insert: true,
			})
		}
	}

	return components, nil
}

// ComponentStatus is the checked state of one component.
type ComponentStatus struct {
	Type        ComponentType `json:"type"`
	Description string        `json:"description"`
	Command     string        `json:"command"`
	Exists      bool          `json:"exists"`
	ShouldExist bool          `json:"should_exist"`
	OK          bool          `json:"ok"`
	Error       string        `json:"error,omitempty"`
}

// CheckComponents queries every component. A component is OK when its presence matches
// ShouldExist.
func CheckComponents(components []Component) []ComponentStatus {
	statuses := make([]ComponentStatus, 0, len(components))
	for _, c := range components {
		st := ComponentStatus{
			Type:        c.GetType(),
			Description: c.GetDescription(),
			Command:     c.GetCommand(),
			ShouldExist: c.ShouldExist(),
		}
		exists, err := c.IsExists()
		if err != nil {
			st.Error = err.Error()
		}
		st.Exists = exists
		st.OK = err == nil && exists == st.ShouldExist
		statuses = append(statuses, st)
	}
	return statuses
}

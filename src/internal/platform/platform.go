// Package platform answers which routing model the box runs.
package platform

import (
	"os"
	"sync"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/config"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

// Capabilities describes the routing model the engine has to adapt to.
type Capabilities interface {
	// IsManagedRouting is true when a router-management service owns the shared
	// wan_routable / lan_routable / global_local tables.
	IsManagedRouting() bool
	// IsDHCPMode is true when the box runs in DHCP addressing mode.
	IsDHCPMode() bool
}

type configCapabilities struct {
	cfg *config.PlatformConfig

	once    sync.Once
	managed bool
}

// FromConfig returns Capabilities backed by the [platform] section. In "auto" mode the
// managed marker path is checked once, on first use.
func FromConfig(cfg *config.PlatformConfig) Capabilities {
	return &configCapabilities{cfg: cfg}
}

func (c *configCapabilities) IsManagedRouting() bool {
	c.once.Do(func() {
		switch c.cfg.RoutingMode {
		case config.RoutingModeManaged:
			c.managed = true
		case config.RoutingModeLegacy:
			c.managed = false
		default:
			_, err := os.Stat(c.cfg.ManagedMarkerPath)
			c.managed = err == nil
			log.Debugf("Routing mode auto-detected as managed=%v (marker %s)", c.managed, c.cfg.ManagedMarkerPath)
		}
	})
	return c.managed
}

func (c *configCapabilities) IsDHCPMode() bool {
	return c.cfg.DHCPMode
}

// Static is a fixed Capabilities value.
type Static struct {
	Managed bool
	DHCP    bool
}

func (s Static) IsManagedRouting() bool { return s.Managed }
func (s Static) IsDHCPMode() bool       { return s.DHCP }

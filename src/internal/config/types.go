package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

type Config struct {
	// General holds process-wide settings.
	General *GeneralConfig `toml:"general" json:"general"`
	// Platform describes which routing model the box uses.
	Platform *PlatformConfig `toml:"platform" json:"platform"`
	// Routing holds routing table allocation and policy rule settings.
	Routing *RoutingConfig `toml:"routing" json:"routing"`
	// Netfilter holds iptables chain names used by the enforcer.
	Netfilter *NetfilterConfig `toml:"netfilter" json:"netfilter"`
	// VPNClients are the VPN client profiles supervised by the service command.
	VPNClients []*VPNClientConfig `toml:"vpn_client,omitempty" json:"vpn_client,omitempty"`

	_absConfigFilePath string
}

type GeneralConfig struct {
	// Verbose enables debug logging.
	Verbose bool `toml:"verbose" json:"verbose"`
	// APIListen is the listen address of the control API (empty = API disabled).
	APIListen string `toml:"api_listen" json:"api_listen" validate:"hostport_or_empty"`
	// PollIntervalSeconds is how often VPN client output directories are polled (default: 5).
	PollIntervalSeconds int `toml:"poll_interval_seconds" json:"poll_interval_seconds" validate:"gte=1"`
}

type RoutingMode string

const (
	RoutingModeAuto    RoutingMode = "auto"
	RoutingModeManaged RoutingMode = "managed"
	RoutingModeLegacy  RoutingMode = "legacy"
)

type PlatformConfig struct {
	// RoutingMode is "managed" when a router-management service owns the shared tables,
	// "legacy" when the main table must be copied, or "auto" to detect by marker path.
	RoutingMode RoutingMode `toml:"routing_mode" json:"routing_mode" validate:"required,oneof=auto managed legacy"`
	// ManagedMarkerPath is checked for existence when routing_mode is "auto".
	ManagedMarkerPath string `toml:"managed_marker_path" json:"managed_marker_path" validate:"required_if=RoutingMode auto"`
	// DHCPMode is true when the box runs in DHCP addressing mode.
	DHCPMode bool `toml:"dhcp_mode" json:"dhcp_mode"`
}

type RoutingConfig struct {
	// RTTablesPath is the rt_tables file used to persist table name to ID bindings.
	RTTablesPath string `toml:"rt_tables_path" json:"rt_tables_path" validate:"required"`
	// VCMask is the fwmark mask selecting VPN client tables.
	VCMask Mark `toml:"vc_mask" json:"vc_mask" validate:"required"`
	// AllMask is the full mark space used for inbound connmark.
	AllMask Mark `toml:"all_mask" json:"all_mask" validate:"required"`
	// RegularMask is the ID space for regular (non VPN client) tables.
	RegularMask Mark `toml:"regular_mask" json:"regular_mask" validate:"required"`
	// EgressPriority is the ip rule priority of the fwmark -> VPN client table rule (default: 6000).
	EgressPriority int `toml:"egress_priority" json:"egress_priority" validate:"min=1"`
	// GrantPriority is the ip rule priority of the iif grants into shared tables (default: 5000).
	GrantPriority int `toml:"grant_priority" json:"grant_priority" validate:"min=1"`
	// WANRoutableTable is the shared table holding WAN routes on managed platforms.
	WANRoutableTable string `toml:"wan_routable_table" json:"wan_routable_table" validate:"required"`
	// GlobalLocalTable is the shared table holding WAN local network routes (DHCP mode).
	GlobalLocalTable string `toml:"global_local_table" json:"global_local_table" validate:"required"`
	// LANRoutableTable is the shared table consulted by LAN networks on managed platforms.
	LANRoutableTable string `toml:"lan_routable_table" json:"lan_routable_table" validate:"required"`
	// CopyConcurrency bounds the number of parallel route insertions when copying the main table.
	CopyConcurrency int `toml:"copy_concurrency" json:"copy_concurrency" validate:"min=1"`
}

type NetfilterConfig struct {
	// StrictChain is the filter chain holding strict VPN drop rules.
	StrictChain string `toml:"strict_chain" json:"strict_chain" validate:"required,chain_name"`
	// DNSChain is the nat chain holding DNS redirect rules.
	DNSChain string `toml:"dns_chain" json:"dns_chain" validate:"required,chain_name"`
	// InboundChain is the nat chain holding inbound connmark rules.
	InboundChain string `toml:"inbound_chain" json:"inbound_chain" validate:"required,chain_name"`
	// MonitoredSet is the ipset of networks exempt from the strict VPN lock.
	MonitoredSet string `toml:"monitored_set" json:"monitored_set" validate:"required"`
	// ManageChains creates the chains and their jumps on service start.
	ManageChains bool `toml:"manage_chains" json:"manage_chains"`
}

type VPNClientConfig struct {
	// Name identifies the profile.
	Name string `toml:"name" json:"name" validate:"required,profile_name"`
	// Interface is the tunnel device brought up by the VPN client.
	Interface string `toml:"interface" json:"interface" validate:"required,ifname"`
	// OutputDir is where the VPN client writes nameserver.ipv4, nameserver.ipv6, routes and reason.
	OutputDir string `toml:"output_dir" json:"output_dir" validate:"required"`
	// RemoteIP is the tunnel endpoint used as gateway. Empty = peer address of the interface.
	RemoteIP string `toml:"remote_ip,omitempty" json:"remote_ip,omitempty" validate:"omitempty,ip"`
	// OverrideDefaultRoute sends all marked traffic through the tunnel (default: true).
	OverrideDefaultRoute *bool `toml:"override_default_route,omitempty" json:"override_default_route,omitempty"`
	// StrictVPN drops marked traffic that would otherwise leave outside the tunnel.
	StrictVPN bool `toml:"strict_vpn" json:"strict_vpn"`
	// Enabled allows a profile to be kept in config without being supervised (default: true).
	Enabled *bool `toml:"enabled,omitempty" json:"enabled,omitempty"`
}

// ShouldOverrideDefaultRoute returns the effective override_default_route value.
func (v *VPNClientConfig) ShouldOverrideDefaultRoute() bool {
	return v.OverrideDefaultRoute == nil || *v.OverrideDefaultRoute
}

// IsEnabled returns the effective enabled value.
func (v *VPNClientConfig) IsEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

func (c *Config) GetConfigDir() string {
	return filepath.Dir(c._absConfigFilePath)
}

// GetAbsOutputDir resolves a profile output directory relative to the config file.
func (c *Config) GetAbsOutputDir(v *VPNClientConfig) string {
	return utils.GetAbsolutePath(v.OutputDir, c.GetConfigDir())
}

// PollInterval returns the supervisor poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.General.PollIntervalSeconds) * time.Second
}

// FindVPNClient returns the profile bound to the given interface, or nil.
func (c *Config) FindVPNClient(iface string) *VPNClientConfig {
	for _, v := range c.VPNClients {
		if v.Interface == iface {
			return v
		}
	}
	return nil
}

// Mark is a 32-bit fwmark or mask. In TOML it may be written as an integer or as a
// string in decimal or 0x-prefixed hex.
type Mark uint32

func (m Mark) String() string {
	return "0x" + strconv.FormatUint(uint64(m), 16)
}

func (m Mark) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mark) UnmarshalText(text []byte) error {
	v, err := ParseMark(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMark parses "0x3ff0000", "67043328" or any other Go integer literal.
// Integer TOML values reach UnmarshalText as their raw literal text, so underscores
// and 0o/0b prefixes are accepted as well.
func ParseMark(s string) (Mark, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mark %q: %w", s, err)
	}
	return Mark(v), nil
}

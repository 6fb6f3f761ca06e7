package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

const (
	DefaultConfigPath   = "/etc/vpnc-enforcer/vpnc-enforcer.conf"
	DefaultRTTablesPath = "/etc/iproute2/rt_tables"

	DefaultVCMask      Mark = 0x3ff0000
	DefaultAllMask     Mark = 0x3ffffff
	DefaultRegularMask Mark = 0xffff

	DefaultEgressPriority = 6000
	DefaultGrantPriority  = 5000
)

// DefaultConfig returns a configuration with every section populated with defaults.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills missing sections and zero values.
func (c *Config) applyDefaults() {
	if c.General == nil {
		c.General = &GeneralConfig{}
	}
	if c.General.PollIntervalSeconds == 0 {
		c.General.PollIntervalSeconds = 5
	}

	if c.Platform == nil {
		c.Platform = &PlatformConfig{}
	}
	if c.Platform.RoutingMode == "" {
		c.Platform.RoutingMode = RoutingModeAuto
	}
	if c.Platform.ManagedMarkerPath == "" {
		c.Platform.ManagedMarkerPath = "/home/pi/firerouter"
	}

	if c.Routing == nil {
		c.Routing = &RoutingConfig{}
	}
	r := c.Routing
	if r.RTTablesPath == "" {
		r.RTTablesPath = DefaultRTTablesPath
	}
	if r.VCMask == 0 {
		r.VCMask = DefaultVCMask
	}
	if r.AllMask == 0 {
		r.AllMask = DefaultAllMask
	}
	if r.RegularMask == 0 {
		r.RegularMask = DefaultRegularMask
	}
	if r.EgressPriority == 0 {
		r.EgressPriority = DefaultEgressPriority
	}
	if r.GrantPriority == 0 {
		r.GrantPriority = DefaultGrantPriority
	}
	if r.WANRoutableTable == "" {
		r.WANRoutableTable = "wan_routable"
	}
	if r.GlobalLocalTable == "" {
		r.GlobalLocalTable = "global_local"
	}
	if r.LANRoutableTable == "" {
		r.LANRoutableTable = "lan_routable"
	}
	if r.CopyConcurrency == 0 {
		r.CopyConcurrency = 16
	}

	if c.Netfilter == nil {
		c.Netfilter = &NetfilterConfig{}
	}
	n := c.Netfilter
	if n.StrictChain == "" {
		n.StrictChain = "FW_VPN_CLIENT"
	}
	if n.DNSChain == "" {
		n.DNSChain = "FW_PREROUTING_DNS_VPN_CLIENT"
	}
	if n.InboundChain == "" {
		n.InboundChain = "FW_PREROUTING_VC_INBOUND"
	}
	if n.MonitoredSet == "" {
		n.MonitoredSet = "monitored_net_set"
	}
}

func LoadConfig(configPath string) (*Config, error) {
	configFile := filepath.Clean(configPath)

	if !filepath.IsAbs(configFile) {
		if path, err := filepath.Abs(configFile); err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %v", err)
		} else {
			configFile = path
		}
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Errorf("Configuration file not found: %s", configFile)
		return nil, fmt.Errorf("configuration file not found: %s", configFile)
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	config, err := ParseConfig(content)
	if err != nil {
		return nil, err
	}
	config._absConfigFilePath = configFile

	log.Debugf("Configuration file path: %s", configFile)
	log.Debugf("Routing tables file: %s", config.Routing.RTTablesPath)

	return config, nil
}

// ParseConfig decodes TOML content and applies defaults.
func ParseConfig(content []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(content, &config); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			log.Errorf("%s", derr.String())
			row, col := derr.Position()
			log.Errorf("Error at line %d, column %d", row, col)
			return nil, fmt.Errorf("failed to parse config file")
		}
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) SerializeConfig() (*bytes.Buffer, error) {
	buf := bytes.Buffer{}
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return &buf, nil
}

func (c *Config) WriteConfig() error {
	config, err := c.SerializeConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(c._absConfigFilePath, config.Bytes(), 0644); err != nil {
		return err
	}
	return nil
}

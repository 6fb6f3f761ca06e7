package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig("/non/existent/file.toml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "invalid.toml")

	invalidTOML := `[general
	verbose = true`

	if err := os.WriteFile(configFile, []byte(invalidTOML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err := LoadConfig(configFile)
	if err == nil {
		t.Error("Expected error for invalid TOML")
	}
}

func TestLoadConfig_EmptyFileGetsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "empty.toml")
	if err := os.WriteFile(configFile, nil, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Routing.VCMask != DefaultVCMask {
		t.Errorf("Expected vc_mask %s, got %s", DefaultVCMask, cfg.Routing.VCMask)
	}
	if cfg.Routing.AllMask != DefaultAllMask {
		t.Errorf("Expected all_mask %s, got %s", DefaultAllMask, cfg.Routing.AllMask)
	}
	if cfg.Routing.EgressPriority != 6000 || cfg.Routing.GrantPriority != 5000 {
		t.Errorf("Unexpected priorities: %d/%d", cfg.Routing.EgressPriority, cfg.Routing.GrantPriority)
	}
	if cfg.Netfilter.StrictChain != "FW_VPN_CLIENT" {
		t.Errorf("Unexpected strict chain: %s", cfg.Netfilter.StrictChain)
	}
	if cfg.Netfilter.DNSChain != "FW_PREROUTING_DNS_VPN_CLIENT" {
		t.Errorf("Unexpected dns chain: %s", cfg.Netfilter.DNSChain)
	}
	if cfg.Netfilter.InboundChain != "FW_PREROUTING_VC_INBOUND" {
		t.Errorf("Unexpected inbound chain: %s", cfg.Netfilter.InboundChain)
	}
	if cfg.Platform.RoutingMode != RoutingModeAuto {
		t.Errorf("Unexpected routing mode: %s", cfg.Platform.RoutingMode)
	}
	if cfg.GetConfigDir() != tmpDir {
		t.Errorf("Expected config dir %s, got %s", tmpDir, cfg.GetConfigDir())
	}
	if err := cfg.ValidateConfig(); err != nil {
		t.Errorf("Default config must validate, got: %v", err)
	}
}

func TestLoadConfig_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "valid.toml")

	validTOML := `[general]
verbose = true
api_listen = "127.0.0.1:9000"

[platform]
routing_mode = "managed"
dhcp_mode = true

[routing]
vc_mask = "0x3ff0000"
all_mask = 0x3ffffff

[[vpn_client]]
name = "office"
interface = "tun0"
output_dir = "clients/office"
strict_vpn = true
override_default_route = false
`

	if err := os.WriteFile(configFile, []byte(validTOML), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !cfg.General.Verbose {
		t.Error("Expected verbose to be true")
	}
	if cfg.Platform.RoutingMode != RoutingModeManaged || !cfg.Platform.DHCPMode {
		t.Errorf("Unexpected platform section: %+v", cfg.Platform)
	}
	if cfg.Routing.VCMask != 0x3ff0000 || cfg.Routing.AllMask != 0x3ffffff {
		t.Errorf("Unexpected masks: %s %s", cfg.Routing.VCMask, cfg.Routing.AllMask)
	}
	if len(cfg.VPNClients) != 1 {
		t.Fatalf("Expected 1 vpn client, got %d", len(cfg.VPNClients))
	}

	vc := cfg.VPNClients[0]
	if vc.ShouldOverrideDefaultRoute() {
		t.Error("Expected override_default_route to be false")
	}
	if !vc.IsEnabled() {
		t.Error("Expected profile to be enabled by default")
	}
	if got := cfg.GetAbsOutputDir(vc); got != filepath.Join(tmpDir, "clients/office") {
		t.Errorf("Unexpected output dir: %s", got)
	}
	if cfg.FindVPNClient("tun0") != vc {
		t.Error("FindVPNClient did not return the profile")
	}
	if cfg.FindVPNClient("tun1") != nil {
		t.Error("FindVPNClient returned a profile for an unknown interface")
	}
}

func TestSerializeConfig_WritesHexMarks(t *testing.T) {
	cfg := DefaultConfig()

	buf, err := cfg.SerializeConfig()
	if err != nil {
		t.Fatalf("SerializeConfig failed: %v", err)
	}
	if !strings.Contains(buf.String(), "0x3ff0000") {
		t.Errorf("Expected hex vc_mask in output, got:\n%s", buf.String())
	}

	parsed, err := ParseConfig(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if parsed.Routing.VCMask != cfg.Routing.VCMask {
		t.Errorf("vc_mask changed after serialization: %s", parsed.Routing.VCMask)
	}
}

func TestWriteConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "out.toml")

	cfg := DefaultConfig()
	cfg._absConfigFilePath = configFile
	cfg.General.Verbose = true

	if err := cfg.WriteConfig(); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	loaded, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !loaded.General.Verbose {
		t.Error("Expected verbose to survive a write/load cycle")
	}
}

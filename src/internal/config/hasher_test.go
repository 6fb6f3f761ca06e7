package config

import "testing"

func TestConfigHasher_DefaultsHashTheSame(t *testing.T) {
	h := NewConfigHasher()

	empty, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("Failed to parse empty config: %v", err)
	}
	explicit, err := ParseConfig([]byte("[general]\npoll_interval_seconds = 5\n"))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	h1, err := h.CalculateHash(empty)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	h2, err := h.CalculateHash(explicit)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Errorf("Expected equal hashes, got %s and %s", h1, h2)
	}
	if len(h1) != 32 {
		t.Errorf("Expected an MD5 hex digest, got %q", h1)
	}
}

func TestConfigHasher_Changed(t *testing.T) {
	h := NewConfigHasher()

	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	changed, hash, err := h.Changed(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !changed {
		t.Error("Expected a change while no hash is active")
	}
	h.SetActiveHash(hash)

	if changed, _, _ := h.Changed(cfg); changed {
		t.Error("Expected no change for the active config")
	}

	cfg.General.PollIntervalSeconds = 30
	if changed, _, _ := h.Changed(cfg); !changed {
		t.Error("Expected a change after editing the config")
	}
}

package config

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
)

// ConfigHasher fingerprints the effective configuration and remembers the fingerprint of
// the configuration the service currently runs with.
type ConfigHasher struct {
	mu         sync.RWMutex
	activeHash string
}

func NewConfigHasher() *ConfigHasher {
	return &ConfigHasher{}
}

// CalculateHash returns the MD5 of the serialized configuration. Defaults are applied
// before serialization, so a file that only spells out defaults hashes the same.
func (h *ConfigHasher) CalculateHash(cfg *Config) (string, error) {
	buf, err := cfg.SerializeConfig()
	if err != nil {
		return "", fmt.Errorf("failed to serialize config: %w", err)
	}
	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (h *ConfigHasher) ActiveHash() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeHash
}

func (h *ConfigHasher) SetActiveHash(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeHash = hash
}

// Changed reports whether cfg differs from the active configuration. It also returns
// the hash of cfg.
func (h *ConfigHasher) Changed(cfg *Config) (bool, string, error) {
	hash, err := h.CalculateHash(cfg)
	if err != nil {
		return false, "", err
	}
	return hash != h.ActiveHash(), hash, nil
}

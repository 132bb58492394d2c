package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProvidersConfig is an optional YAML overlay for static per-provider
// settings that rarely change across deploys: base URLs and rate limits.
// Loaded only when PROVIDERS_CONFIG_PATH is set; every field has a sane
// zero-value fallback supplied by the adapter constructors otherwise.
type ProvidersConfig struct {
	Providers map[string]ProviderOverride `yaml:"providers"`
	Global    GlobalConfig                `yaml:"global"`
}

// ProviderOverride overrides one provider's static settings.
type ProviderOverride struct {
	BaseURL            string `yaml:"base_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	Enabled            bool   `yaml:"enabled"`
}

// GlobalConfig holds settings shared across every provider adapter.
type GlobalConfig struct {
	UserAgent string `yaml:"user_agent"`
}

// LoadProvidersConfig reads and validates the optional YAML overlay.
func LoadProvidersConfig(configPath string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers config: %w", err)
	}

	var cfg ProvidersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse providers config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid providers config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects overlay entries that could not plausibly configure a
// provider adapter.
func (c *ProvidersConfig) Validate() error {
	for name, override := range c.Providers {
		if override.Enabled && override.RateLimitPerMinute < 0 {
			return fmt.Errorf("provider %s: rate_limit_per_minute cannot be negative", name)
		}
	}
	return nil
}

// IsProviderEnabled reports whether the overlay leaves a provider enabled;
// absent entries default to enabled.
func (c *ProvidersConfig) IsProviderEnabled(name string) bool {
	override, exists := c.Providers[name]
	if !exists {
		return true
	}
	return override.Enabled
}

// requestTimeout is the fixed per-call deadline every adapter uses; it is
// not presently overridable via the YAML overlay.
const requestTimeout = 30 * time.Second

// Package config loads the runtime configuration from a YAML (or
// JSON) file. Venue credentials never live in the file; they are read
// from the environment at load time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Store   StoreConfig   `json:"store" yaml:"store"`
	Binance BinanceConfig `json:"binance" yaml:"binance"`
	OANDA   OANDAConfig   `json:"oanda" yaml:"oanda"`
	Lease   LeaseConfig   `json:"lease" yaml:"lease"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Equity  EquityConfig  `json:"equity" yaml:"equity"`
}

// StoreConfig locates the sqlite database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// BinanceConfig enables the crypto venues. Credentials come from
// BINANCE_API_KEY and BINANCE_API_SECRET.
type BinanceConfig struct {
	Spot    bool `json:"spot" yaml:"spot"`
	Futures bool `json:"futures" yaml:"futures"`

	APIKey    string `json:"-" yaml:"-"`
	APISecret string `json:"-" yaml:"-"`
}

// OANDAConfig enables the forex platform. The token comes from
// OANDA_API_TOKEN.
type OANDAConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	AccountID string `json:"account_id" yaml:"account_id"`
	Practice  bool   `json:"practice" yaml:"practice"`

	Token string `json:"-" yaml:"-"`
}

// LeaseConfig tunes the single-instance lock. Durations are strings
// like "30s".
type LeaseConfig struct {
	TTL       string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Heartbeat string `json:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`
}

// CacheConfig tunes the portfolio cache.
type CacheConfig struct {
	SyncInterval string `json:"sync_interval,omitempty" yaml:"sync_interval,omitempty"`
	QuoteAsset   string `json:"quote_asset,omitempty" yaml:"quote_asset,omitempty"`
	Workers      int    `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// EquityConfig tunes the equity snapshot loop.
type EquityConfig struct {
	SnapshotInterval string `json:"snapshot_interval,omitempty" yaml:"snapshot_interval,omitempty"`
}

// LoadFromFile loads configuration from a file, trying YAML first and
// falling back to JSON, then fills credentials from the environment.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.Binance.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.Binance.APISecret = os.Getenv("BINANCE_API_SECRET")
	cfg.OANDA.Token = os.Getenv("OANDA_API_TOKEN")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// StorePath reads only store.path from a config file, skipping
// credential checks. Read-only commands use this so they work without
// venue credentials in the environment.
func StorePath(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return "", fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	if cfg.Store.Path == "" {
		return "", fmt.Errorf("store.path is required")
	}
	return cfg.Store.Path, nil
}

// Validate checks the configuration for missing or contradictory
// settings.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if !c.Binance.Spot && !c.Binance.Futures && !c.OANDA.Enabled {
		return fmt.Errorf("at least one venue must be enabled")
	}
	if (c.Binance.Spot || c.Binance.Futures) && (c.Binance.APIKey == "" || c.Binance.APISecret == "") {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET must be set")
	}
	if c.OANDA.Enabled {
		if c.OANDA.Token == "" {
			return fmt.Errorf("OANDA_API_TOKEN must be set")
		}
		if c.OANDA.AccountID == "" {
			return fmt.Errorf("oanda.account_id is required")
		}
	}

	for _, d := range []struct {
		name, value string
	}{
		{"lease.ttl", c.Lease.TTL},
		{"lease.heartbeat", c.Lease.Heartbeat},
		{"cache.sync_interval", c.Cache.SyncInterval},
		{"equity.snapshot_interval", c.Equity.SnapshotInterval},
	} {
		if _, err := parseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// LeaseTTL returns the configured TTL, zero when unset.
func (c *Config) LeaseTTL() time.Duration { return mustDuration(c.Lease.TTL) }

// LeaseHeartbeat returns the configured heartbeat, zero when unset.
func (c *Config) LeaseHeartbeat() time.Duration { return mustDuration(c.Lease.Heartbeat) }

// CacheSyncInterval returns the configured sync interval, zero when
// unset.
func (c *Config) CacheSyncInterval() time.Duration { return mustDuration(c.Cache.SyncInterval) }

// EquitySnapshotInterval returns the snapshot cadence, zero when
// unset.
func (c *Config) EquitySnapshotInterval() time.Duration { return mustDuration(c.Equity.SnapshotInterval) }

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// mustDuration is safe after Validate.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

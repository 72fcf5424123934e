// Package config loads client configuration from YAML with sane
// defaults for every field, so an empty file and a missing file both
// yield a working configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/limits"
)

// Duration wraps time.Duration so YAML values can be written as
// strings like "24h" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("%w: duration must be a string: %v", errs.ErrValidation, err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", errs.ErrValidation, raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
	// RedisAddr is the redis host:port when Backend is "redis".
	RedisAddr string `yaml:"redis_addr"`
	// RedisPassword authenticates to redis when set.
	RedisPassword string `yaml:"redis_password"`
	// RedisDB selects the redis logical database.
	RedisDB int `yaml:"redis_db"`
}

// LimitsConfig overrides directory capacities.
type LimitsConfig struct {
	MaxContacts     int `yaml:"max_contacts"`
	MaxGroupMembers int `yaml:"max_group_members"`
}

// RotationConfig controls the key rotation scheduler.
type RotationConfig struct {
	Interval Duration `yaml:"interval"`
}

// DiscoveryConfig controls relay discovery.
type DiscoveryConfig struct {
	ListenAddr        string   `yaml:"listen_addr"`
	Trackers          []string `yaml:"trackers"`
	BootstrapNodes    []string `yaml:"bootstrap_nodes"`
	RelayTTL          Duration `yaml:"relay_ttl"`
	SweepInterval     Duration `yaml:"sweep_interval"`
	PexInterval       Duration `yaml:"pex_interval"`
	BootstrapInterval Duration `yaml:"bootstrap_interval"`
}

// Config is the complete client configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Limits    LimitsConfig    `yaml:"limits"`
	Rotation  RotationConfig  `yaml:"rotation"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// DefaultConfig returns the configuration used when no file overrides
// it.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "memory",
		},
		Limits: LimitsConfig{
			MaxContacts:     limits.DefaultMaxContacts,
			MaxGroupMembers: limits.DefaultMaxGroupMembers,
		},
		Rotation: RotationConfig{
			Interval: Duration(24 * time.Hour),
		},
		Discovery: DiscoveryConfig{
			ListenAddr:        ":0",
			RelayTTL:          Duration(time.Hour),
			SweepInterval:     Duration(time.Minute),
			PexInterval:       Duration(2 * time.Minute),
			BootstrapInterval: Duration(5 * time.Minute),
		},
	}
}

// Load reads a YAML file over the defaults. A missing file returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read %q: %v", errs.ErrStorage, path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", errs.ErrValidation, path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("%w: redis backend needs redis_addr", errs.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", errs.ErrValidation, c.Storage.Backend)
	}
	if c.Limits.MaxContacts < 0 || c.Limits.MaxGroupMembers < 0 {
		return fmt.Errorf("%w: limits must be non-negative", errs.ErrValidation)
	}
	return nil
}

// Package config loads the builder configuration recognized by spec §6:
// root_dir, namespaces (with their per-collection schemas), pool_size, and
// policy_max_depth. Grounded on the niiniyare-ruun and watzon-alyx example
// repos' viper-based config loaders (both load a YAML file, then layer
// environment variables over it via AutomaticEnv).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// CollectionConfig is one schema registration within a namespace.
type CollectionConfig struct {
	Collection string `mapstructure:"collection"`
	SchemaJSON string `mapstructure:"schema_json"`
}

// NamespaceConfig describes one namespace and its collections, registered
// in the order given — callers are expected to list parents before
// children, per spec §4.5's "registered in dependency order" requirement.
type NamespaceConfig struct {
	Name    string             `mapstructure:"name"`
	Schemas []CollectionConfig `mapstructure:"schemas"`
}

// Config is the full set of recognized configuration options (spec §6).
type Config struct {
	RootDir        string            `mapstructure:"root_dir"`
	Namespaces     []NamespaceConfig `mapstructure:"namespaces"`
	PoolSize       int               `mapstructure:"pool_size"`
	PolicyMaxDepth int               `mapstructure:"policy_max_depth"`
}

const (
	defaultPoolSize       = 4
	defaultPolicyMaxDepth = 64
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("root_dir", "./data")
	v.SetDefault("pool_size", defaultPoolSize)
	v.SetDefault("policy_max_depth", defaultPolicyMaxDepth)
}

// Load reads configuration from path (if non-empty) plus environment
// variables, falling back to built-in defaults for anything unset.
// Environment variables use "_" in place of "." for nested keys, e.g.
// SYNCSTORE_POOL_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("syncstore")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants spec §6 states for each option
// ("pool_size: integer ≥ 1", "policy_max_depth: integer ≥ 1").
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("config: root_dir must not be empty")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.PolicyMaxDepth < 1 {
		return fmt.Errorf("config: policy_max_depth must be >= 1, got %d", c.PolicyMaxDepth)
	}
	seen := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("config: namespace entries must have a name")
		}
		if seen[ns.Name] {
			return fmt.Errorf("config: duplicate namespace %q", ns.Name)
		}
		seen[ns.Name] = true
	}
	return nil
}

// Package config describes how a plugin group is set up: its name, the
// event loop cadence, where socket endpoints live, and per-plugin
// overrides. The host side loads it from YAML and ships the serialized
// form to the remote side right after the ready handshake.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the group configuration.
type Config struct {
	// Group names the plugin group; plugins sharing a group share one
	// remote process and one event loop.
	Group string `yaml:"group"`

	// EventLoopIntervalMS is the event pump cadence in milliseconds.
	EventLoopIntervalMS int `yaml:"event_loop_interval_ms"`

	// EventLoopMinGapMS is the smallest gap between two pump ticks in
	// milliseconds.
	EventLoopMinGapMS int `yaml:"event_loop_min_gap_ms"`

	// SocketDir overrides where endpoint directories are created. Empty
	// means the system temp directory.
	SocketDir string `yaml:"socket_dir"`

	// Plugins maps plugin names to their settings.
	Plugins map[string]Plugin `yaml:"plugins"`
}

// Plugin is the configuration block for one plugin in the group.
type Plugin struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the configuration used when no file is given: an
// anonymous group pumping at 30 ticks per second with a 5 ms floor.
func Default() *Config {
	return &Config{
		Group:               "default",
		EventLoopIntervalMS: 33,
		EventLoopMinGapMS:   5,
		Plugins:             map[string]Plugin{},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults, and validates.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]Plugin{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal serializes the configuration for shipment across the process
// boundary.
func (c *Config) Marshal() ([]byte, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return raw, nil
}

// Validate rejects configurations the bridge cannot honor.
func (c *Config) Validate() error {
	if c.Group == "" {
		return errors.New("group name cannot be empty")
	}
	if c.EventLoopIntervalMS <= 0 {
		return fmt.Errorf("event loop interval must be positive, got %d ms", c.EventLoopIntervalMS)
	}
	if c.EventLoopMinGapMS <= 0 {
		return fmt.Errorf("event loop minimum gap must be positive, got %d ms", c.EventLoopMinGapMS)
	}
	if c.EventLoopMinGapMS > c.EventLoopIntervalMS {
		return fmt.Errorf("event loop minimum gap (%d ms) exceeds interval (%d ms)",
			c.EventLoopMinGapMS, c.EventLoopIntervalMS)
	}
	for name, plugin := range c.Plugins {
		if plugin.Enabled && plugin.Path == "" {
			return fmt.Errorf("plugin %s is enabled but has no path", name)
		}
	}
	return nil
}

// EventLoopInterval returns the cadence as a duration.
func (c *Config) EventLoopInterval() time.Duration {
	return time.Duration(c.EventLoopIntervalMS) * time.Millisecond
}

// EventLoopMinGap returns the tick floor as a duration.
func (c *Config) EventLoopMinGap() time.Duration {
	return time.Duration(c.EventLoopMinGapMS) * time.Millisecond
}

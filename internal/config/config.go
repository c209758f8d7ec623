// Package config holds the scheduler core's compile-time configuration: a
// single flat struct enumerating every recognized tunable, with a
// DefaultConfig constructor and a YAML loader for the simulation harness's
// scenario files. The core itself never reads this package directly — each
// concrete component (roundrobin.Config, priority.Config, switchctl.Config,
// the preemption gate's max depth) takes its own narrow config slice,
// constructed from this one by cmd/dsrtos-sim at startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config enumerates every recognized compile-time tunable. There is no
// persistent state, no wire protocol, no filesystem interaction beyond
// loading this struct once at startup.
type Config struct {
	MaxTasks             int `yaml:"max_tasks"`
	PriorityLevels       int `yaml:"priority_levels"`
	NodePoolSize         int `yaml:"node_pool_size"`
	InheritanceTableSize int `yaml:"inheritance_table_size"`

	AgingPeriodMs    int `yaml:"aging_period_ms"`
	AgingThresholdMs int `yaml:"aging_threshold_ms"`
	AgingBoost       int `yaml:"aging_boost"`

	StarvationThresholdMs int `yaml:"starvation_threshold_ms"`
	DefaultTimeSliceMs    int `yaml:"default_time_slice_ms"`

	SwitchHistorySize    int `yaml:"switch_history_size"`
	MinSwitchIntervalMs  int `yaml:"min_switch_interval_ms"`
	MaxSwitchTimeUs      int `yaml:"max_switch_time_us"`
	MaxPreemptionDepth   int `yaml:"max_preemption_depth"`

	InheritanceEnabled bool `yaml:"inheritance_enabled"`
	AgingEnabled       bool `yaml:"aging_enabled"`
}

// DefaultConfig returns the tunable set used when no scenario file is
// supplied: a modest single-core microcontroller profile, not a
// contrived-worst-case one.
func DefaultConfig() *Config {
	return &Config{
		MaxTasks:             256,
		PriorityLevels:       256,
		NodePoolSize:         256,
		InheritanceTableSize: 64,

		AgingPeriodMs:    100,
		AgingThresholdMs: 500,
		AgingBoost:       4,

		StarvationThresholdMs: 200,
		DefaultTimeSliceMs:    10,

		SwitchHistorySize:   32,
		MinSwitchIntervalMs: 100,
		MaxSwitchTimeUs:     1000,
		MaxPreemptionDepth:  255,

		InheritanceEnabled: true,
		AgingEnabled:       true,
	}
}

// Load reads a YAML scenario file and overlays it onto DefaultConfig.
// Fields absent from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a configuration that would make the fixed-capacity
// pools or the priority bitmap meaningless.
func (c *Config) Validate() error {
	if c.PriorityLevels <= 0 || c.PriorityLevels > 256 {
		return fmt.Errorf("priority_levels must be in (0, 256], got %d", c.PriorityLevels)
	}
	if c.NodePoolSize <= 0 {
		return fmt.Errorf("node_pool_size must be positive, got %d", c.NodePoolSize)
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("max_tasks must be positive, got %d", c.MaxTasks)
	}
	if c.SwitchHistorySize < 32 {
		return fmt.Errorf("switch_history_size must be at least 32, got %d", c.SwitchHistorySize)
	}
	if c.MaxPreemptionDepth <= 0 {
		return fmt.Errorf("max_preemption_depth must be positive, got %d", c.MaxPreemptionDepth)
	}
	return nil
}

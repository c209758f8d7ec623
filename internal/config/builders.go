package config

import (
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/priority"
	"github.com/khryptorgraphics/dsrtos-core/pkg/policy/roundrobin"
	"github.com/khryptorgraphics/dsrtos-core/pkg/switchctl"
)

// RoundRobinConfig projects the flat tunable set onto roundrobin.Config.
func (c *Config) RoundRobinConfig() *roundrobin.Config {
	return &roundrobin.Config{
		NodePoolSize:          c.NodePoolSize,
		TimeSliceMs:           c.DefaultTimeSliceMs,
		StarvationThresholdMs: c.StarvationThresholdMs,
	}
}

// PriorityConfig projects the flat tunable set onto priority.Config.
func (c *Config) PriorityConfig() *priority.Config {
	return &priority.Config{
		NodePoolSize:         c.NodePoolSize,
		InheritanceEnabled:   c.InheritanceEnabled,
		InheritanceTableSize: c.InheritanceTableSize,
		AgingEnabled:         c.AgingEnabled,
		AgingPeriodMs:        c.AgingPeriodMs,
		AgingThresholdMs:     c.AgingThresholdMs,
		AgingBoostAmount:     c.AgingBoost,
	}
}

// SwitchConfig projects the flat tunable set onto switchctl.Config.
func (c *Config) SwitchConfig() *switchctl.Config {
	return &switchctl.Config{
		MinSwitchIntervalMs:      c.MinSwitchIntervalMs,
		MaxSwitchMicros:          uint64(c.MaxSwitchTimeUs),
		MaxCriticalSectionMicros: switchctl.DefaultMaxCriticalSectionMicros,
		HistoryDepth:             c.SwitchHistorySize,
	}
}

// GateMaxDepth returns the preemption gate's max nesting depth as an int32,
// the type gate.New expects.
func (c *Config) GateMaxDepth() int32 {
	return int32(c.MaxPreemptionDepth)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysScenarioFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_pool_size: 64
min_switch_interval_ms: 50
aging_enabled: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.NodePoolSize)
	assert.Equal(t, 50, cfg.MinSwitchIntervalMs)
	assert.False(t, cfg.AgingEnabled)
	// Untouched fields keep their default.
	assert.Equal(t, 256, cfg.PriorityLevels)
	assert.True(t, cfg.InheritanceEnabled)
}

func TestLoadRejectsInvalidOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("priority_levels: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestBuilderProjectionsCarryTunables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodePoolSize = 128
	cfg.DefaultTimeSliceMs = 20
	cfg.StarvationThresholdMs = 300

	rr := cfg.RoundRobinConfig()
	assert.Equal(t, 128, rr.NodePoolSize)
	assert.Equal(t, 20, rr.TimeSliceMs)
	assert.Equal(t, 300, rr.StarvationThresholdMs)

	pr := cfg.PriorityConfig()
	assert.Equal(t, 128, pr.NodePoolSize)
	assert.True(t, pr.InheritanceEnabled)

	sw := cfg.SwitchConfig()
	assert.Equal(t, cfg.MinSwitchIntervalMs, sw.MinSwitchIntervalMs)
	assert.Equal(t, uint64(cfg.MaxSwitchTimeUs), sw.MaxSwitchMicros)

	assert.Equal(t, int32(cfg.MaxPreemptionDepth), cfg.GateMaxDepth())
}

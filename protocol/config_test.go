package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultSimConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultSimConfig().Validate())
}

func TestSimConfigValidateRejectsBadBounds(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.JitterMin = 100 * time.Millisecond
	cfg.JitterMax = 10 * time.Millisecond
	require.Error(t, cfg.Validate())

	cfg = DefaultSimConfig()
	cfg.CircuitLength = 5
	require.Error(t, cfg.Validate())

	cfg = DefaultSimConfig()
	cfg.HeartbeatTimeout = cfg.HeartbeatInterval
	require.Error(t, cfg.Validate())

	cfg = DefaultSimConfig()
	cfg.MaxWindow = 0
	require.Error(t, cfg.Validate())
}

func TestSimConfigYAMLDurations(t *testing.T) {
	var cfg SimConfig
	err := yaml.Unmarshal([]byte("jitter_min: 10ms\njitter_max: 30ms\nmax_window: 1s\n"), &cfg)
	require.NoError(t, err)

	require.Equal(t, 10*time.Millisecond, cfg.JitterMin)
	require.Equal(t, 30*time.Millisecond, cfg.JitterMax)
	require.Equal(t, time.Second, cfg.MaxWindow)

	// Unspecified fields keep the defaults.
	require.Equal(t, DefaultSimConfig().CircuitLength, cfg.CircuitLength)
	require.Equal(t, DefaultSimConfig().QueueWait, cfg.QueueWait)
	require.NoError(t, cfg.Validate())
}

func TestSimConfigYAMLRejectsBadDuration(t *testing.T) {
	var cfg SimConfig
	require.Error(t, yaml.Unmarshal([]byte("queue_wait: soon\n"), &cfg))
}

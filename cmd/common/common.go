// Package common provides shared utilities for relaysim CLI commands.
//
// This package contains the YAML configuration shared by the standalone
// binaries (coordinator, agent, demo) and the logger setup they all use.
// Command-line flags override values loaded from the file.
package common

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/onionlab/relaysim/protocol"
)

// Config is the on-disk configuration for relaysim binaries. Fields not
// relevant to a binary are ignored by it: an agent reads coordinator_url and
// role, the coordinator reads listen_addr and the sim block.
type Config struct {
	// ListenAddr is the coordinator's HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr enables the Prometheus listener when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	// CoordinatorURL is the agent's target, e.g. ws://localhost:8080/ws/agent.
	CoordinatorURL string `yaml:"coordinator_url"`

	// Role and RelayAddr identify an agent binary's relay.
	Role      string `yaml:"role"`
	RelayAddr string `yaml:"relay_addr"`

	// NarratorURL points at an external analysis narration service.
	// Empty disables narration.
	NarratorURL string `yaml:"narrator_url"`

	LogJSON  bool `yaml:"log_json"`
	LogDebug bool `yaml:"log_debug"`

	Sim *protocol.SimConfig `yaml:"sim"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		Sim:        protocol.DefaultSimConfig(),
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Sim == nil {
		cfg.Sim = protocol.DefaultSimConfig()
	}
	if err := cfg.Sim.Validate(); err != nil {
		return nil, fmt.Errorf("sim config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger. JSON output is for collected
// deployments, text for terminals.
func NewLogger(jsonOut, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOut {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

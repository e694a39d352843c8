package protocol

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SimConfig provides the shared simulation parameters consumed at startup.
// The core never mutates it at runtime.
type SimConfig struct {
	// CircuitLength is the number of layers a packet is injected with.
	// Fixed at 3 (guard/middle/exit) for the classroom topology.
	CircuitLength int `json:"circuit_length" yaml:"circuit_length"`

	// MaxQueueDepth bounds how many packets may wait for an unregistered
	// role before further packets fail with ErrNoRouteAvailable.
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth"`

	// QueueWait is how long a queued packet waits for its target role to
	// register before it is discarded as undeliverable.
	QueueWait time.Duration `json:"queue_wait" yaml:"queue_wait"`

	// HopTimeout bounds the coordinator's wait for an agent's hop event
	// after forwarding a packet to it.
	HopTimeout time.Duration `json:"hop_timeout" yaml:"hop_timeout"`

	// HeartbeatInterval is the keepalive send period per connection;
	// HeartbeatTimeout is the silence threshold treated as a disconnect.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`

	// CorrelationInterval is the period of the scheduled correlation pass.
	CorrelationInterval time.Duration `json:"correlation_interval" yaml:"correlation_interval"`

	// MaxWindow is the upper bound on plausible end-to-end transit time
	// used when pairing guard and exit events.
	MaxWindow time.Duration `json:"max_window" yaml:"max_window"`

	// JitterMin/JitterMax bound the uniform random processing delay each
	// relay injects per hop. Zero bounds disable jitter entirely.
	JitterMin time.Duration `json:"jitter_min" yaml:"jitter_min"`
	JitterMax time.Duration `json:"jitter_max" yaml:"jitter_max"`
}

// DefaultSimConfig returns the classroom defaults. Jitter defaults mirror the
// 50-150ms per-hop delay of the original exercise.
func DefaultSimConfig() *SimConfig {
	return &SimConfig{
		CircuitLength:       3,
		MaxQueueDepth:       16,
		QueueWait:           5 * time.Second,
		HopTimeout:          3 * time.Second,
		HeartbeatInterval:   5 * time.Second,
		HeartbeatTimeout:    15 * time.Second,
		CorrelationInterval: 10 * time.Second,
		MaxWindow:           2 * time.Second,
		JitterMin:           50 * time.Millisecond,
		JitterMax:           150 * time.Millisecond,
	}
}

// rawSimConfig mirrors SimConfig with human-readable duration strings for
// YAML files ("50ms", "2s").
type rawSimConfig struct {
	CircuitLength       int    `yaml:"circuit_length"`
	MaxQueueDepth       int    `yaml:"max_queue_depth"`
	QueueWait           string `yaml:"queue_wait"`
	HopTimeout          string `yaml:"hop_timeout"`
	HeartbeatInterval   string `yaml:"heartbeat_interval"`
	HeartbeatTimeout    string `yaml:"heartbeat_timeout"`
	CorrelationInterval string `yaml:"correlation_interval"`
	MaxWindow           string `yaml:"max_window"`
	JitterMin           string `yaml:"jitter_min"`
	JitterMax           string `yaml:"jitter_max"`
}

// UnmarshalYAML decodes duration fields from strings. Absent fields keep the
// receiver's current values, or the defaults when the receiver is zero.
func (c *SimConfig) UnmarshalYAML(node *yaml.Node) error {
	base := *c
	if base == (SimConfig{}) {
		base = *DefaultSimConfig()
	}

	raw := rawSimConfig{
		CircuitLength:       base.CircuitLength,
		MaxQueueDepth:       base.MaxQueueDepth,
		QueueWait:           base.QueueWait.String(),
		HopTimeout:          base.HopTimeout.String(),
		HeartbeatInterval:   base.HeartbeatInterval.String(),
		HeartbeatTimeout:    base.HeartbeatTimeout.String(),
		CorrelationInterval: base.CorrelationInterval.String(),
		MaxWindow:           base.MaxWindow.String(),
		JitterMin:           base.JitterMin.String(),
		JitterMax:           base.JitterMax.String(),
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	c.CircuitLength = raw.CircuitLength
	c.MaxQueueDepth = raw.MaxQueueDepth
	for _, field := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"queue_wait", raw.QueueWait, &c.QueueWait},
		{"hop_timeout", raw.HopTimeout, &c.HopTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &c.HeartbeatInterval},
		{"heartbeat_timeout", raw.HeartbeatTimeout, &c.HeartbeatTimeout},
		{"correlation_interval", raw.CorrelationInterval, &c.CorrelationInterval},
		{"max_window", raw.MaxWindow, &c.MaxWindow},
		{"jitter_min", raw.JitterMin, &c.JitterMin},
		{"jitter_max", raw.JitterMax, &c.JitterMax},
	} {
		d, err := time.ParseDuration(field.src)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = d
	}
	return nil
}

// Validate rejects configurations the simulation cannot run with.
func (c *SimConfig) Validate() error {
	if c.CircuitLength < 1 {
		return fmt.Errorf("circuit length %d: must be at least 1", c.CircuitLength)
	}
	if c.CircuitLength != len(CircuitRoles) {
		return fmt.Errorf("circuit length %d: topology has %d roles", c.CircuitLength, len(CircuitRoles))
	}
	if c.MaxQueueDepth < 0 {
		return fmt.Errorf("max queue depth %d: must not be negative", c.MaxQueueDepth)
	}
	if c.MaxWindow <= 0 {
		return fmt.Errorf("max window %s: must be positive", c.MaxWindow)
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter bounds [%s, %s] invalid", c.JitterMin, c.JitterMax)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout %s must exceed interval %s", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	return nil
}

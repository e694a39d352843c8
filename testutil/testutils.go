package testutil

import (
	"fmt"
	"time"

	"github.com/onionlab/relaysim/protocol"
)

// SimConfigOption customizes a test simulation config.
type SimConfigOption func(*protocol.SimConfig)

// WithJitter sets the per-hop delay bounds.
func WithJitter(min, max time.Duration) SimConfigOption {
	return func(c *protocol.SimConfig) {
		c.JitterMin = min
		c.JitterMax = max
	}
}

// WithQueueWait sets how long packets wait for an unregistered role.
func WithQueueWait(d time.Duration) SimConfigOption {
	return func(c *protocol.SimConfig) { c.QueueWait = d }
}

// WithMaxQueueDepth sets the per-role packet queue bound.
func WithMaxQueueDepth(n int) SimConfigOption {
	return func(c *protocol.SimConfig) { c.MaxQueueDepth = n }
}

// WithMaxWindow sets the correlation transit-time bound.
func WithMaxWindow(d time.Duration) SimConfigOption {
	return func(c *protocol.SimConfig) { c.MaxWindow = d }
}

// NewTestSimConfig returns the defaults tuned for tests: no jitter and short
// waits, so tests that do not opt into delays run fast.
func NewTestSimConfig(options ...SimConfigOption) *protocol.SimConfig {
	cfg := protocol.DefaultSimConfig()
	cfg.JitterMin = 0
	cfg.JitterMax = 0
	cfg.QueueWait = 300 * time.Millisecond
	cfg.HopTimeout = 2 * time.Second

	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// packetParams collects the adjustable fields of a generated packet.
type packetParams struct {
	circuitID   string
	sequenceNo  uint64
	layerCount  int
	origin      string
	destination string
	content     string
	sizeBytes   int
}

// PacketOption customizes a generated packet.
type PacketOption func(*packetParams)

// WithCircuitID pins the packet's circuit identifier.
func WithCircuitID(id string) PacketOption {
	return func(p *packetParams) { p.circuitID = id }
}

// WithSequenceNo pins the packet's sequence number.
func WithSequenceNo(seq uint64) PacketOption {
	return func(p *packetParams) { p.sequenceNo = seq }
}

// WithLayerCount sets the number of onion layers.
func WithLayerCount(n int) PacketOption {
	return func(p *packetParams) { p.layerCount = n }
}

// WithOrigin sets the simulated client address.
func WithOrigin(addr string) PacketOption {
	return func(p *packetParams) { p.origin = addr }
}

// WithDestination sets the simulated destination address.
func WithDestination(addr string) PacketOption {
	return func(p *packetParams) { p.destination = addr }
}

// WithContent sets the carried content.
func WithContent(content string) PacketOption {
	return func(p *packetParams) { p.content = content }
}

// GenerateTestPacket creates a freshly injected packet with sane defaults.
// It panics on invalid options since that is always a bug in the test.
func GenerateTestPacket(options ...PacketOption) protocol.Packet {
	p := packetParams{
		circuitID:   protocol.NewCircuitID(),
		layerCount:  len(protocol.CircuitRoles),
		origin:      "10.3.0.7",
		destination: "93.184.5.5",
		content:     "GET /index.html",
		sizeBytes:   512,
	}
	for _, opt := range options {
		opt(&p)
	}

	pkt, err := protocol.Inject(p.circuitID, p.sequenceNo, protocol.Payload{
		Origin:      p.origin,
		Destination: p.destination,
		Content:     p.content,
		SizeBytes:   p.sizeBytes,
	}, p.layerCount)
	if err != nil {
		panic(fmt.Sprintf("testutil: bad packet fixture: %v", err))
	}
	return pkt
}

// HopEventOption customizes a generated hop event.
type HopEventOption func(*protocol.HopEvent)

// WithRole sets the observing relay's role.
func WithRole(role protocol.Role) HopEventOption {
	return func(ev *protocol.HopEvent) { ev.Role = role }
}

// WithEventCircuit sets the event's circuit identifier.
func WithEventCircuit(id string) HopEventOption {
	return func(ev *protocol.HopEvent) { ev.CircuitID = id }
}

// WithTimestamps sets ingress and egress explicitly.
func WithTimestamps(in, out time.Time) HopEventOption {
	return func(ev *protocol.HopEvent) {
		ev.Timestamp = in
		ev.TimestampOut = out
	}
}

// GenerateTestHopEvent creates a guard hop event at the current time.
func GenerateTestHopEvent(options ...HopEventOption) protocol.HopEvent {
	now := time.Now().UTC()
	ev := protocol.HopEvent{
		CircuitID:    protocol.NewCircuitID(),
		Role:         protocol.RoleGuard,
		RelayAddr:    "10.0.1.1",
		Timestamp:    now,
		TimestampOut: now,
		Observed: protocol.ObservedFields{
			FromAddr: "10.3.0.7",
			ToAddr:   protocol.RoleGuard.NextHopLabel(),
		},
	}
	for _, opt := range options {
		opt(&ev)
	}
	return ev
}

// GenerateCircuitEvents produces the guard, middle and exit events of one
// fully delivered circuit, spaced hopDelay apart starting at start.
func GenerateCircuitEvents(circuitID string, start time.Time, hopDelay time.Duration) []protocol.HopEvent {
	events := make([]protocol.HopEvent, 0, len(protocol.CircuitRoles))
	t := start
	for _, role := range protocol.CircuitRoles {
		events = append(events, GenerateTestHopEvent(
			WithRole(role),
			WithEventCircuit(circuitID),
			WithTimestamps(t, t.Add(hopDelay)),
		))
		t = t.Add(hopDelay)
	}
	return events
}

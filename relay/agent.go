package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onionlab/relaysim/channel"
	"github.com/onionlab/relaysim/protocol"
)

// Config configures one relay agent.
type Config struct {
	// Role is the agent's fixed circuit position.
	Role protocol.Role

	// Addr is the agent's simulated relay address, reported at
	// registration and shown to neighboring roles.
	Addr string

	// CoordinatorURL is the coordinator's agent endpoint
	// (ws://host:port/ws/agent).
	CoordinatorURL string

	Sim *protocol.SimConfig
	Log *slog.Logger

	// Clock drives jitter sleeps; tests inject a mock.
	Clock clock.Clock
}

// Agent processes packets for a single role.
type Agent struct {
	cfg  Config
	role protocol.Role
	log  *slog.Logger
	clk  clock.Clock

	rngMu sync.Mutex
	rng   *rand.Rand

	packetCount uint64
}

// New validates the configuration and creates an agent.
func New(cfg Config) (*Agent, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}
	if cfg.Sim == nil {
		cfg.Sim = protocol.DefaultSimConfig()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Agent{
		cfg:  cfg,
		role: cfg.Role,
		log:  cfg.Log.With("role", cfg.Role, "addr", cfg.Addr),
		clk:  cfg.Clock,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run connects to the coordinator and serves packets until the context is
// canceled, re-dialing with a fixed backoff after connection loss.
func (a *Agent) Run(ctx context.Context) error {
	const redialBackoff = 2 * time.Second

	for {
		if err := a.serveOnce(ctx); err != nil {
			a.log.Warn("Coordinator session ended", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redialBackoff):
		}
	}
}

// serveOnce runs a single register-and-serve session over one connection.
func (a *Agent) serveOnce(ctx context.Context) error {
	conn, err := channel.Dial(ctx, a.cfg.CoordinatorURL, channel.Options{
		Codec:             channel.Msgpack,
		HeartbeatInterval: a.cfg.Sim.HeartbeatInterval,
		HeartbeatTimeout:  a.cfg.Sim.HeartbeatTimeout,
		Log:               a.log,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := channel.Send(conn, protocol.MsgRoleRegister, &protocol.RoleRegister{
		Role: a.role,
		Addr: a.cfg.Addr,
	}); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.log.Info("Registered with coordinator", "coordinator", a.cfg.CoordinatorURL)

	return a.Serve(ctx, conn)
}

// Serve processes inbound envelopes on an established connection until it
// closes or the context is canceled.
func (a *Agent) Serve(ctx context.Context, conn *channel.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-conn.Inbox():
			if !ok {
				return conn.Err()
			}
			if env.Type != protocol.MsgPacketForward {
				a.log.Debug("Ignoring envelope", "type", env.Type)
				continue
			}

			fwd, err := channel.Open[protocol.PacketForward](conn.Codec(), env)
			if err != nil {
				a.log.Warn("Undecodable packet forward", "err", err)
				continue
			}
			a.processPacket(ctx, conn, fwd.Packet)
		}
	}
}

// processPacket runs one hop and reports the results upstream. Peel failures
// become Error notices; the packet is dropped either way.
func (a *Agent) processPacket(ctx context.Context, conn *channel.Conn, pkt protocol.Packet) {
	event, peeled, err := a.HandleIncoming(ctx, pkt)
	if err != nil {
		a.log.Error("Refusing malformed packet", "circuit", pkt.CircuitID, "err", err)
		notice := &protocol.ErrorNotice{
			Code:      protocol.ErrorCode(err),
			Reason:    err.Error(),
			CircuitID: pkt.CircuitID,
			Role:      a.role,
		}
		if sendErr := channel.Send(conn, protocol.MsgError, notice); sendErr != nil {
			a.log.Warn("Could not report routing error", "err", sendErr)
		}
		return
	}

	a.log.Info("Processed packet",
		"circuit", pkt.CircuitID,
		"from", event.Observed.FromAddr,
		"to", event.Observed.ToAddr,
		"layers_left", event.Observed.LayersRemaining,
	)

	// Hop event strictly before the forward: the coordinator relies on
	// per-connection ordering to record the event before routing onward.
	if err := channel.Send(conn, protocol.MsgHopEvent, &event); err != nil {
		a.log.Warn("Could not emit hop event", "err", err)
		return
	}
	if err := channel.Send(conn, protocol.MsgPacketForward, &protocol.PacketForward{Packet: peeled}); err != nil {
		a.log.Warn("Could not forward packet", "err", err)
	}
}

// HandleIncoming performs the role's hop: peel one layer, apply the
// simulated processing delay, and build the role-restricted hop event.
// The returned packet is the peeled copy to forward; on error the packet
// must be dropped.
func (a *Agent) HandleIncoming(ctx context.Context, pkt protocol.Packet) (protocol.HopEvent, protocol.Packet, error) {
	ingress := a.clk.Now().UTC()

	_, peeled, err := pkt.Peel()
	if err != nil {
		return protocol.HopEvent{}, protocol.Packet{}, err
	}

	if err := a.sleepJitter(ctx); err != nil {
		return protocol.HopEvent{}, protocol.Packet{}, err
	}
	egress := a.clk.Now().UTC()

	a.packetCount++
	event := protocol.HopEvent{
		CircuitID:    peeled.CircuitID,
		Role:         a.role,
		RelayAddr:    a.cfg.Addr,
		SequenceNo:   peeled.SequenceNo,
		Observed:     protocol.ObservedView(a.role, peeled),
		Timestamp:    ingress,
		TimestampOut: egress,
	}
	return event, peeled, nil
}

// sleepJitter blocks for a uniform random duration within the configured
// bounds. Zero bounds disable the delay.
func (a *Agent) sleepJitter(ctx context.Context) error {
	min, max := a.cfg.Sim.JitterMin, a.cfg.Sim.JitterMax
	if max <= 0 {
		return nil
	}

	d := min
	if span := max - min; span > 0 {
		a.rngMu.Lock()
		d += time.Duration(a.rng.Int63n(int64(span)))
		a.rngMu.Unlock()
	}
	if d <= 0 {
		return nil
	}

	timer := a.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

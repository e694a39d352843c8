package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onionlab/relaysim/channel"
	"github.com/onionlab/relaysim/correlation"
	"github.com/onionlab/relaysim/metrics"
	"github.com/onionlab/relaysim/narrator"
	"github.com/onionlab/relaysim/protocol"
)

// HubConfig configures the relay hub.
type HubConfig struct {
	Sim      *protocol.SimConfig
	Log      *slog.Logger
	Narrator narrator.Narrator

	// Clock drives queue waits, hop timeouts and the correlation
	// schedule; tests inject a mock.
	Clock clock.Clock
}

// agentHandle binds a registered role to its connection.
type agentHandle struct {
	role protocol.Role
	addr string
	conn *channel.Conn
}

// continuation is an agent's answer to a packet forward: either the peeled
// packet or an error notice. Exactly one field is set.
type continuation struct {
	forward *protocol.PacketForward
	notice  *protocol.ErrorNotice
}

// Hub routes packets between agents in circuit order, owns the event log,
// and fans sanitized state out to viewers.
type Hub struct {
	cfg     *protocol.SimConfig
	log     *slog.Logger
	clk     clock.Clock
	engine  *correlation.Engine
	narrate narrator.Narrator
	events  *EventLog

	ctx        context.Context
	cancelFunc context.CancelFunc

	mu           sync.Mutex
	agents       map[protocol.Role]*agentHandle
	viewers      map[*channel.Conn]struct{}
	waiters      map[protocol.Role][]chan *agentHandle
	pending      map[string]chan continuation
	circuitLocks map[string]*sync.Mutex
	seqs         map[string]uint64
	circuitCount int
	lastReport   *correlation.Report

	analyzeReqCh chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

// helloTimeout bounds how long a fresh agent connection may stay silent
// before its first RoleRegister.
const helloTimeout = 10 * time.Second

// NewHub creates a hub. The simulation config must already be validated.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Sim == nil {
		cfg.Sim = protocol.DefaultSimConfig()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Narrator == nil {
		cfg.Narrator = narrator.Noop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:          cfg.Sim,
		log:          cfg.Log,
		clk:          cfg.Clock,
		engine:       correlation.NewEngine(cfg.Sim.MaxWindow),
		narrate:      cfg.Narrator,
		events:       NewEventLog(),
		ctx:          ctx,
		cancelFunc:   cancel,
		agents:       make(map[protocol.Role]*agentHandle),
		viewers:      make(map[*channel.Conn]struct{}),
		waiters:      make(map[protocol.Role][]chan *agentHandle),
		pending:      make(map[string]chan continuation),
		circuitLocks: make(map[string]*sync.Mutex),
		seqs:         make(map[string]uint64),
		analyzeReqCh: make(chan struct{}, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunInBackground starts the scheduled correlation pass.
func (h *Hub) RunInBackground() {
	go h.runCorrelationLoop()
}

// Shutdown cancels all in-flight routing and background tasks.
func (h *Hub) Shutdown() {
	h.cancelFunc()
}

// Events exposes the event log for read-only consumers.
func (h *Hub) Events() *EventLog { return h.events }

// ---- Agent connections ----------------------------------------------------

// HandleAgentConn owns one agent connection for its lifetime. The first
// envelope must be a RoleRegister; everything after is hop events and packet
// continuations.
func (h *Hub) HandleAgentConn(conn *channel.Conn) {
	defer conn.Close()

	var reg *protocol.RoleRegister
	select {
	case <-h.ctx.Done():
		return
	case <-h.clk.After(helloTimeout):
		h.log.Warn("Agent connection never registered", "remote", conn.RemoteAddr())
		return
	case env, ok := <-conn.Inbox():
		if !ok {
			return
		}
		if env.Type != protocol.MsgRoleRegister {
			h.log.Warn("Agent spoke before registering", "type", env.Type)
			return
		}
		var err error
		reg, err = channel.Open[protocol.RoleRegister](conn.Codec(), env)
		if err != nil || !reg.Role.Valid() {
			h.log.Warn("Rejecting invalid registration", "err", err)
			return
		}
	}

	handle := h.registerAgent(reg, conn)
	defer h.unregisterAgent(handle)

	for {
		select {
		case <-h.ctx.Done():
			return
		case env, ok := <-conn.Inbox():
			if !ok {
				return
			}
			h.dispatchAgentEnvelope(handle, env)
		}
	}
}

func (h *Hub) dispatchAgentEnvelope(handle *agentHandle, env *protocol.Envelope) {
	codec := handle.conn.Codec()

	switch env.Type {
	case protocol.MsgHopEvent:
		ev, err := channel.Open[protocol.HopEvent](codec, env)
		if err != nil {
			h.log.Warn("Undecodable hop event", "role", handle.role, "err", err)
			return
		}
		h.Record(*ev)

	case protocol.MsgPacketForward:
		fwd, err := channel.Open[protocol.PacketForward](codec, env)
		if err != nil {
			h.log.Warn("Undecodable packet forward", "role", handle.role, "err", err)
			return
		}
		h.deliverContinuation(fwd.Packet.CircuitID, continuation{forward: fwd})

	case protocol.MsgError:
		notice, err := channel.Open[protocol.ErrorNotice](codec, env)
		if err != nil {
			h.log.Warn("Undecodable error notice", "role", handle.role, "err", err)
			return
		}
		h.deliverContinuation(notice.CircuitID, continuation{notice: notice})

	default:
		h.log.Debug("Ignoring agent envelope", "role", handle.role, "type", env.Type)
	}
}

// registerAgent installs the connection as the role's single occupant. A
// previous holder is evicted, closed, and surfaced as disconnected.
func (h *Hub) registerAgent(reg *protocol.RoleRegister, conn *channel.Conn) *agentHandle {
	handle := &agentHandle{role: reg.Role, addr: reg.Addr, conn: conn}

	h.mu.Lock()
	evicted := h.agents[reg.Role]
	h.agents[reg.Role] = handle
	released := h.waiters[reg.Role]
	delete(h.waiters, reg.Role)
	h.mu.Unlock()

	if evicted != nil {
		h.log.Warn("Evicting previous agent for role", "role", reg.Role, "addr", evicted.addr)
		evicted.conn.Close()
		broadcast(h, protocol.MsgAgentDisconnected, &protocol.AgentConnection{Role: evicted.role, Addr: evicted.addr})
	}

	for _, ch := range released {
		ch <- handle
	}

	metrics.ConnectedAgents.WithLabelValues(string(reg.Role)).Set(1)
	h.log.Info("Agent registered", "role", reg.Role, "addr", reg.Addr)
	broadcast(h, protocol.MsgAgentConnected, &protocol.AgentConnection{Role: reg.Role, Addr: reg.Addr})
	return handle
}

// unregisterAgent removes the handle if it still occupies its role. Evicted
// handles were already surfaced and are ignored here.
func (h *Hub) unregisterAgent(handle *agentHandle) {
	h.mu.Lock()
	current := h.agents[handle.role] == handle
	if current {
		delete(h.agents, handle.role)
	}
	h.mu.Unlock()

	if !current {
		return
	}
	metrics.ConnectedAgents.WithLabelValues(string(handle.role)).Set(0)
	h.log.Info("Agent disconnected", "role", handle.role, "addr", handle.addr)
	broadcast(h, protocol.MsgAgentDisconnected, &protocol.AgentConnection{Role: handle.role, Addr: handle.addr})
}

// ---- Viewer connections ---------------------------------------------------

// HandleViewerConn owns one viewer connection: it attaches the viewer to the
// fan-out set and serves its inject/analyze requests.
func (h *Hub) HandleViewerConn(conn *channel.Conn) {
	defer conn.Close()

	h.addViewer(conn)
	defer h.removeViewer(conn)

	for {
		select {
		case <-h.ctx.Done():
			return
		case env, ok := <-conn.Inbox():
			if !ok {
				return
			}
			switch env.Type {
			case protocol.MsgInjectRequest:
				req, err := channel.Open[protocol.InjectRequest](conn.Codec(), env)
				if err != nil {
					h.log.Warn("Undecodable inject request", "err", err)
					continue
				}
				if _, err := h.Inject(*req); err != nil {
					h.log.Warn("Viewer injection rejected", "err", err)
				}
			case protocol.MsgAnalyzeRequest:
				h.RequestAnalysis()
			default:
				h.log.Debug("Ignoring viewer envelope", "type", env.Type)
			}
		}
	}
}

func (h *Hub) addViewer(conn *channel.Conn) {
	h.mu.Lock()
	h.viewers[conn] = struct{}{}
	connected := make([]protocol.Role, 0, len(h.agents))
	for _, role := range protocol.CircuitRoles {
		if _, ok := h.agents[role]; ok {
			connected = append(connected, role)
		}
	}
	report := h.lastReport
	h.mu.Unlock()

	metrics.ConnectedViewers.Inc()
	h.log.Info("Viewer connected", "remote", conn.RemoteAddr())

	// Bring the new viewer up to date immediately.
	sendTo(h, conn, protocol.MsgAgentStatus, &protocol.AgentStatus{Connected: connected})
	if report != nil {
		sendTo(h, conn, protocol.MsgCorrelationReport, report)
	}
}

func (h *Hub) removeViewer(conn *channel.Conn) {
	h.mu.Lock()
	_, ok := h.viewers[conn]
	delete(h.viewers, conn)
	h.mu.Unlock()

	if ok {
		metrics.ConnectedViewers.Dec()
		h.log.Info("Viewer disconnected", "remote", conn.RemoteAddr())
	}
}

// broadcast fans one payload out to every viewer. Dead connections are
// dropped from the set as they fail.
func broadcast[T any](h *Hub, typ protocol.MessageType, payload *T) {
	h.mu.Lock()
	conns := make([]*channel.Conn, 0, len(h.viewers))
	for conn := range h.viewers {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		sendTo(h, conn, typ, payload)
	}
}

func sendTo[T any](h *Hub, conn *channel.Conn, typ protocol.MessageType, payload *T) {
	env, err := channel.Seal(conn.Codec(), typ, payload)
	if err != nil {
		h.log.Error("Could not seal viewer envelope", "type", typ, "err", err)
		return
	}
	if err := conn.Send(env); err != nil {
		h.removeViewer(conn)
	}
}

// ---- Injection and routing ------------------------------------------------

// Inject creates a packet for a fresh circuit and routes it in the
// background. Empty request fields are filled with generated simulation
// values, mirroring the classroom traffic generator.
func (h *Hub) Inject(req protocol.InjectRequest) (string, error) {
	payload := protocol.Payload{
		Origin:      req.Origin,
		Destination: req.Destination,
		Content:     req.Content,
	}
	if payload.Origin == "" {
		payload.Origin = h.randClientAddr()
	}
	if payload.Destination == "" {
		payload.Destination = h.randPublicAddr()
	}
	if payload.Content == "" {
		payload.Content = "GET /index.html"
	}
	payload.SizeBytes = 400 + h.randN(1100)

	circuitID := protocol.NewCircuitID()

	h.mu.Lock()
	seq := h.seqs[circuitID]
	h.seqs[circuitID]++
	h.circuitCount++
	h.mu.Unlock()

	pkt, err := protocol.Inject(circuitID, seq, payload, h.cfg.CircuitLength)
	if err != nil {
		return "", err
	}

	metrics.PacketsInjected.Inc()
	h.log.Info("New circuit", "circuit", circuitID, "src", payload.Origin, "dst", payload.Destination)
	broadcast(h, protocol.MsgCircuitStart, &protocol.CircuitStart{
		CircuitID:   circuitID,
		Origin:      payload.Origin,
		Destination: payload.Destination,
	})

	go h.routePacket(pkt)
	return circuitID, nil
}

// routePacket walks one packet through the circuit. Routing for a circuit is
// strictly serialized by the per-circuit lock; packets on other circuits
// proceed concurrently.
func (h *Hub) routePacket(pkt protocol.Packet) {
	lock := h.circuitLock(pkt.CircuitID)
	lock.Lock()
	defer lock.Unlock()

	prevHop := pkt.Payload.Origin

	for !pkt.Delivered() {
		role, err := protocol.RoleForHop(pkt.CurrentHop(h.cfg.CircuitLength))
		if err != nil {
			h.dropPacket(pkt, "", fmt.Errorf("hop derivation: %w", err))
			return
		}

		handle, err := h.waitForAgent(role)
		if err != nil {
			h.dropPacket(pkt, role, err)
			return
		}

		cont := h.addPending(pkt.CircuitID)
		pkt = pkt.WithPrevHop(prevHop)
		if err := channel.Send(handle.conn, protocol.MsgPacketForward, &protocol.PacketForward{Packet: pkt}); err != nil {
			h.removePending(pkt.CircuitID)
			h.dropPacket(pkt, role, fmt.Errorf("%w: %s unreachable", protocol.ErrAgentDisconnected, role))
			return
		}

		select {
		case <-h.ctx.Done():
			h.removePending(pkt.CircuitID)
			return

		case <-handle.conn.Done():
			h.removePending(pkt.CircuitID)
			h.dropPacket(pkt, role, fmt.Errorf("%w: %s dropped mid-hop", protocol.ErrAgentDisconnected, role))
			return

		case <-h.clk.After(h.cfg.HopTimeout):
			h.removePending(pkt.CircuitID)
			h.dropPacket(pkt, role, fmt.Errorf("%w: %s silent for %s", protocol.ErrAgentDisconnected, role, h.cfg.HopTimeout))
			return

		case c := <-cont:
			h.removePending(pkt.CircuitID)
			if c.notice != nil {
				h.dropPacket(pkt, role, fmt.Errorf("%s reported %s: %s", role, c.notice.Code, c.notice.Reason))
				return
			}
			pkt = c.forward.Packet
			prevHop = handle.addr
		}
	}

	h.log.Info("Circuit delivered", "circuit", pkt.CircuitID)
	broadcast(h, protocol.MsgCircuitDone, &protocol.CircuitDone{CircuitID: pkt.CircuitID})
}

// waitForAgent returns the role's registered agent, queueing up to the
// configured depth and wait bound when the role is vacant.
func (h *Hub) waitForAgent(role protocol.Role) (*agentHandle, error) {
	h.mu.Lock()
	if handle, ok := h.agents[role]; ok {
		h.mu.Unlock()
		return handle, nil
	}
	if len(h.waiters[role]) >= h.cfg.MaxQueueDepth {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s queue full at depth %d", protocol.ErrNoRouteAvailable, role, h.cfg.MaxQueueDepth)
	}
	ch := make(chan *agentHandle, 1)
	h.waiters[role] = append(h.waiters[role], ch)
	h.mu.Unlock()

	select {
	case handle := <-ch:
		return handle, nil

	case <-h.ctx.Done():
		h.removeWaiter(role, ch)
		return nil, h.ctx.Err()

	case <-h.clk.After(h.cfg.QueueWait):
		h.removeWaiter(role, ch)
		// Registration may have raced the timeout; prefer the agent.
		select {
		case handle := <-ch:
			return handle, nil
		default:
		}
		return nil, fmt.Errorf("%w: no %s agent registered within %s", protocol.ErrNoRouteAvailable, role, h.cfg.QueueWait)
	}
}

func (h *Hub) removeWaiter(role protocol.Role, ch chan *agentHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.waiters[role]
	for i := range ws {
		if ws[i] == ch {
			h.waiters[role] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

func (h *Hub) addPending(circuitID string) chan continuation {
	ch := make(chan continuation, 1)
	h.mu.Lock()
	h.pending[circuitID] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) removePending(circuitID string) {
	h.mu.Lock()
	delete(h.pending, circuitID)
	h.mu.Unlock()
}

func (h *Hub) deliverContinuation(circuitID string, c continuation) {
	h.mu.Lock()
	ch := h.pending[circuitID]
	h.mu.Unlock()

	if ch == nil {
		h.log.Warn("Continuation for idle circuit", "circuit", circuitID)
		return
	}
	select {
	case ch <- c:
	default:
		h.log.Warn("Duplicate continuation dropped", "circuit", circuitID)
	}
}

// dropPacket discards a packet and surfaces the failure to viewers. Never
// fatal: unaffected circuits continue.
func (h *Hub) dropPacket(pkt protocol.Packet, role protocol.Role, err error) {
	code := protocol.ErrorCode(err)
	metrics.PacketsDropped.WithLabelValues(code).Inc()
	h.log.Warn("Packet dropped", "circuit", pkt.CircuitID, "role", role, "err", err)

	broadcast(h, protocol.MsgError, &protocol.ErrorNotice{
		Code:      code,
		Reason:    err.Error(),
		CircuitID: pkt.CircuitID,
		Role:      role,
	})
	broadcast(h, protocol.MsgPacketDropped, &protocol.PacketDropped{
		CircuitID: pkt.CircuitID,
		Role:      role,
		Reason:    code,
	})
}

// Record appends a hop event in arrival order and immediately fans the
// sanitized copy out to viewers. This is the event log's only write path.
func (h *Hub) Record(ev protocol.HopEvent) {
	h.events.Append(ev)
	metrics.HopEventsRecorded.WithLabelValues(string(ev.Role)).Inc()
	broadcast(h, protocol.MsgHopEvent, &ev)
}

// ---- Correlation ----------------------------------------------------------

// RunCorrelation analyzes a snapshot of the event log, broadcasts the report
// and, when a narrator is configured, its narration. Safe to run concurrently
// with routing: it only reads the log.
func (h *Hub) RunCorrelation(ctx context.Context) *correlation.Report {
	report := h.engine.Analyze(h.events.Snapshot())
	metrics.CorrelationRuns.Inc()

	h.mu.Lock()
	h.lastReport = report
	circuitCount := h.circuitCount
	h.mu.Unlock()

	h.log.Info("Correlation pass complete",
		"candidates", len(report.Candidates),
		"pairs", len(report.Pairs),
		"modal_delta", report.ModalDelta,
	)
	broadcast(h, protocol.MsgCorrelationReport, report)

	if _, noop := h.narrate.(narrator.Noop); !noop && len(report.Pairs) > 0 {
		summary := &narrator.Summary{
			RecentEvents: h.events.Recent(20),
			Candidates:   report.Candidates,
			CircuitCount: circuitCount,
		}
		text, err := h.narrate.Narrate(ctx, summary)
		switch {
		case err != nil:
			h.log.Warn("Narrator failed", "err", err)
		case text != "":
			broadcast(h, protocol.MsgNarration, &protocol.Narration{Text: text})
		}
	}

	return report
}

// RequestAnalysis schedules an immediate correlation pass. Coalesces with an
// already-pending request.
func (h *Hub) RequestAnalysis() {
	select {
	case h.analyzeReqCh <- struct{}{}:
	default:
	}
}

func (h *Hub) runCorrelationLoop() {
	ticker := h.clk.Ticker(h.cfg.CorrelationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.RunCorrelation(h.ctx)
		case <-h.analyzeReqCh:
			h.RunCorrelation(h.ctx)
		}
	}
}

// ---- Status and traffic helpers -------------------------------------------

// Status summarizes hub state for the REST status endpoint.
type Status struct {
	ConnectedRoles []protocol.Role `json:"connected_roles"`
	Viewers        int             `json:"viewers"`
	Events         int             `json:"events"`
	Circuits       int             `json:"circuits"`
}

// CurrentStatus reports the connected roles, viewer count and log size.
func (h *Hub) CurrentStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		ConnectedRoles: []protocol.Role{},
		Viewers:        len(h.viewers),
		Events:         h.events.Len(),
		Circuits:       h.circuitCount,
	}
	for _, role := range protocol.CircuitRoles {
		if _, ok := h.agents[role]; ok {
			st.ConnectedRoles = append(st.ConnectedRoles, role)
		}
	}
	return st
}

func (h *Hub) circuitLock(circuitID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.circuitLocks[circuitID]
	if !ok {
		lock = &sync.Mutex{}
		h.circuitLocks[circuitID] = lock
	}
	return lock
}

func (h *Hub) randN(n int) int {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return h.rng.Intn(n)
}

// randClientAddr fabricates a client address in the simulated campus range.
func (h *Hub) randClientAddr() string {
	return fmt.Sprintf("10.%d.0.%d", h.randN(10), 2+h.randN(252))
}

// randPublicAddr fabricates a destination in the simulated public range.
func (h *Hub) randPublicAddr() string {
	return fmt.Sprintf("93.184.%d.%d", 1+h.randN(253), 1+h.randN(253))
}

package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/onionlab/relaysim/channel"
	"github.com/onionlab/relaysim/protocol"
)

// Handler exposes the hub over HTTP: websocket endpoints for agents and
// viewers plus a small REST surface for scripted demos.
type Handler struct {
	hub *Hub
	sim *protocol.SimConfig
	log *slog.Logger
}

// NewHandler wires the hub into an HTTP route registrar.
func NewHandler(hub *Hub, sim *protocol.SimConfig, log *slog.Logger) *Handler {
	if sim == nil {
		sim = protocol.DefaultSimConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{hub: hub, sim: sim, log: log}
}

// RegisterRoutes registers routes with the provided router. Viewer and REST
// routes allow cross-origin access so browser dashboards can attach from
// anywhere; the agent endpoint is websocket-only and needs no CORS.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/agent", h.agentSocket)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}))
		r.Get("/ws/viewer", h.viewerSocket)
		r.Post("/api/inject", h.inject)
		r.Post("/api/analyze", h.analyze)
		r.Get("/api/status", h.status)
	})
}

// agentSocket upgrades an agent connection. Agents speak msgpack and are
// heartbeat-supervised; the handler goroutine is pinned to the connection for
// its lifetime.
func (h *Handler) agentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := channel.Upgrade(w, r, channel.Options{
		Codec:             channel.Msgpack,
		HeartbeatInterval: h.sim.HeartbeatInterval,
		HeartbeatTimeout:  h.sim.HeartbeatTimeout,
		Log:               h.log,
	})
	if err != nil {
		h.log.Warn("Agent upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	h.hub.HandleAgentConn(conn)
}

// viewerSocket upgrades a viewer connection. Viewers speak JSON so a plain
// browser client can render frames without a decoder.
func (h *Handler) viewerSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := channel.Upgrade(w, r, channel.Options{
		Codec:             channel.JSON,
		HeartbeatInterval: h.sim.HeartbeatInterval,
		HeartbeatTimeout:  h.sim.HeartbeatTimeout,
		Log:               h.log,
	})
	if err != nil {
		h.log.Warn("Viewer upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	h.hub.HandleViewerConn(conn)
}

// inject creates a circuit from an optional JSON InjectRequest body. An empty
// body injects fully generated traffic.
func (h *Handler) inject(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req protocol.InjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}

	circuitID, err := h.hub.Inject(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to inject packet: %v", err), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "success",
		"circuit_id": circuitID,
	})
}

// analyze schedules an immediate correlation pass. The report arrives on the
// viewer sockets, not in this response.
func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	h.hub.RequestAnalysis()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "scheduled",
	})
}

// status reports connected roles, viewer count and event log size.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.hub.CurrentStatus())
}

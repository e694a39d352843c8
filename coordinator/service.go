package coordinator

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/onionlab/relaysim/api/httpserver"
	"github.com/onionlab/relaysim/narrator"
	"github.com/onionlab/relaysim/protocol"
)

// ServiceConfig bundles everything a coordinator process needs.
type ServiceConfig struct {
	Server *httpserver.HTTPServerConfig
	Sim    *protocol.SimConfig

	// Narrator produces presentation text for correlation reports.
	// Nil disables narration.
	Narrator narrator.Narrator

	Log   *slog.Logger
	Clock clock.Clock
}

// Service is the complete coordinator: the hub plus its HTTP front end.
type Service struct {
	hub *Hub
	srv *httpserver.BaseServer
	log *slog.Logger
}

// NewService validates the configuration and assembles the coordinator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Sim == nil {
		cfg.Sim = protocol.DefaultSimConfig()
	}
	if err := cfg.Sim.Validate(); err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	hub := NewHub(HubConfig{
		Sim:      cfg.Sim,
		Log:      cfg.Log,
		Narrator: cfg.Narrator,
		Clock:    cfg.Clock,
	})

	srv, err := httpserver.New(cfg.Server, NewHandler(hub, cfg.Sim, cfg.Log))
	if err != nil {
		return nil, err
	}

	return &Service{hub: hub, srv: srv, log: cfg.Log}, nil
}

// Hub exposes the hub, mainly for in-process orchestration and tests.
func (s *Service) Hub() *Hub { return s.hub }

// RunInBackground starts the hub's scheduled tasks and the HTTP listeners.
func (s *Service) RunInBackground() {
	s.hub.RunInBackground()
	s.srv.RunInBackground()
}

// Shutdown stops the HTTP servers first so no new connections arrive, then
// cancels the hub's in-flight routing.
func (s *Service) Shutdown() {
	s.srv.Shutdown()
	s.hub.Shutdown()
	s.log.Info("Coordinator stopped")
}

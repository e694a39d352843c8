package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onionlab/relaysim/api/httpserver"
	"github.com/onionlab/relaysim/coordinator"
	"github.com/onionlab/relaysim/narrator"
	"github.com/onionlab/relaysim/protocol"
	"github.com/onionlab/relaysim/relay"
)

// Config contains deployment configuration for an in-process simulation.
type Config struct {
	// ListenAddr is the coordinator's HTTP address, e.g. "127.0.0.1:8080".
	ListenAddr string

	// MetricsAddr starts the Prometheus listener when non-empty.
	MetricsAddr string

	// InjectEvery enables the automatic traffic injector with the given
	// period. Zero disables it; packets then only enter via the REST or
	// viewer inject paths.
	InjectEvery time.Duration

	Sim      *protocol.SimConfig
	Narrator narrator.Narrator
	Log      *slog.Logger
}

// Orchestrator manages one full in-process deployment.
type Orchestrator struct {
	cfg   Config
	log   *slog.Logger
	coord *coordinator.Service

	agents []*relay.Agent

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New assembles the deployment without starting anything.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address required")
	}
	if cfg.Sim == nil {
		cfg.Sim = protocol.DefaultSimConfig()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	coord, err := coordinator.NewService(coordinator.ServiceConfig{
		Server: &httpserver.HTTPServerConfig{
			ListenAddr:               cfg.ListenAddr,
			MetricsAddr:              cfg.MetricsAddr,
			Log:                      cfg.Log.With("service", "coordinator"),
			DrainDuration:            time.Second,
			GracefulShutdownDuration: 5 * time.Second,
			ReadTimeout:              60 * time.Second,
		},
		Sim:      cfg.Sim,
		Narrator: cfg.Narrator,
		Log:      cfg.Log.With("service", "coordinator"),
	})
	if err != nil {
		return nil, fmt.Errorf("build coordinator: %w", err)
	}

	o := &Orchestrator{cfg: cfg, log: cfg.Log, coord: coord}

	coordURL := fmt.Sprintf("ws://%s/ws/agent", cfg.ListenAddr)
	for i, role := range protocol.CircuitRoles {
		agent, err := relay.New(relay.Config{
			Role:           role,
			Addr:           fmt.Sprintf("10.0.1.%d", i+1),
			CoordinatorURL: coordURL,
			Sim:            cfg.Sim,
			Log:            cfg.Log.With("service", "agent"),
		})
		if err != nil {
			return nil, fmt.Errorf("build %s agent: %w", role, err)
		}
		o.agents = append(o.agents, agent)
	}

	return o, nil
}

// Deploy starts the coordinator and all agents.
func (o *Orchestrator) Deploy() error {
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.group, _ = errgroup.WithContext(o.ctx)

	o.coord.RunInBackground()

	for _, agent := range o.agents {
		agent := agent
		o.group.Go(func() error { return agent.Run(o.ctx) })
	}

	if o.cfg.InjectEvery > 0 {
		o.group.Go(func() error { return o.injectLoop(o.ctx) })
	}

	o.log.Info("Deployment started",
		"listen", o.cfg.ListenAddr,
		"agents", len(o.agents),
		"auto_inject", o.cfg.InjectEvery,
	)
	return nil
}

// WaitReady blocks until every circuit role has registered with the
// coordinator or the context expires.
func (o *Orchestrator) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(o.coord.Hub().CurrentStatus().ConnectedRoles) == len(protocol.CircuitRoles) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("agents not registered: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Hub exposes the coordinator hub for direct injection and inspection.
func (o *Orchestrator) Hub() *coordinator.Hub {
	return o.coord.Hub()
}

// injectLoop feeds generated traffic into the simulation on a fixed period.
func (o *Orchestrator) injectLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.InjectEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.coord.Hub().Inject(protocol.InjectRequest{}); err != nil {
				o.log.Warn("Auto injection failed", "err", err)
			}
		}
	}
}

// Shutdown stops agents, injector and coordinator. Safe to call once after
// Deploy.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	// Agents exit with the canceled context; nothing else is an error here.
	_ = o.group.Wait()
	o.coord.Shutdown()
	o.log.Info("Deployment stopped")
}

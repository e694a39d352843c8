// Package metrics exposes the coordinator's operational counters on a
// dedicated Prometheus listener, separate from the simulation endpoints.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaysim"

var (
	// PacketsInjected counts packets accepted for routing.
	PacketsInjected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_injected_total",
		Help:      "Packets injected into the simulation.",
	})

	// HopEventsRecorded counts hop events appended to the event log.
	HopEventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hop_events_recorded_total",
		Help:      "Hop events appended to the coordinator event log.",
	}, []string{"role"})

	// PacketsDropped counts discarded packets by failure reason.
	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_dropped_total",
		Help:      "Packets discarded before delivery.",
	}, []string{"reason"})

	// CorrelationRuns counts completed correlation passes.
	CorrelationRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "correlation_runs_total",
		Help:      "Completed correlation analysis passes.",
	})

	// ConnectedAgents tracks registered relay agents by role.
	ConnectedAgents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_agents",
		Help:      "Relay agents currently registered.",
	}, []string{"role"})

	// ConnectedViewers tracks attached viewer connections.
	ConnectedViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_viewers",
		Help:      "Viewer connections currently attached.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. The address may
// be empty when metrics are disabled; the caller decides whether to start it.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving scrapes until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown stops the listener gracefully.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

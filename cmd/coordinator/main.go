// Command coordinator runs the relaysim hub.
//
// The coordinator accepts relay agents on /ws/agent (msgpack) and viewers on
// /ws/viewer (JSON), routes injected packets through the guard/middle/exit
// circuit, and runs the timing-correlation analysis on a schedule.
//
// # Configuration File
//
// Create a YAML file with coordinator settings:
//
//	listen_addr: ":8080"
//	metrics_addr: ":9090"     # empty disables metrics
//	narrator_url: ""          # empty disables narration
//	sim:
//	  circuit_length: 3
//	  jitter_min: 50ms
//	  jitter_max: 150ms
//	  max_window: 2s
//
// # Usage
//
//	go run ./cmd/coordinator --config=coordinator.yaml
//	go run ./cmd/coordinator --listen=:8080 --metrics=:9090
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onionlab/relaysim/api/httpserver"
	"github.com/onionlab/relaysim/cmd/common"
	"github.com/onionlab/relaysim/coordinator"
	"github.com/onionlab/relaysim/narrator"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		listenAddr  = flag.String("listen", "", "HTTP listen address")
		metricsAddr = flag.String("metrics", "", "Prometheus listen address (empty disables)")
		narratorURL = flag.String("narrator-url", "", "Analysis narration service URL")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")
		logDebug    = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg := common.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = common.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Command-line flags override config file
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *narratorURL != "" {
		cfg.NarratorURL = *narratorURL
	}

	log := common.NewLogger(*logJSON || cfg.LogJSON, *logDebug || cfg.LogDebug)

	var narrate narrator.Narrator = narrator.Noop{}
	if cfg.NarratorURL != "" {
		narrate = narrator.NewHTTPNarrator(cfg.NarratorURL)
	}

	svc, err := coordinator.NewService(coordinator.ServiceConfig{
		Server: &httpserver.HTTPServerConfig{
			ListenAddr:               cfg.ListenAddr,
			MetricsAddr:              cfg.MetricsAddr,
			Log:                      log,
			DrainDuration:            5 * time.Second,
			GracefulShutdownDuration: 10 * time.Second,
			ReadTimeout:              60 * time.Second,
		},
		Sim:      cfg.Sim,
		Narrator: narrate,
		Log:      log,
	})
	if err != nil {
		fmt.Printf("Create coordinator error: %v\n", err)
		os.Exit(1)
	}

	svc.RunInBackground()
	log.Info("Coordinator running", "listen", cfg.ListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("Shutting down coordinator...")
	svc.Shutdown()
}

// Command demo runs the whole simulation in one process: the coordinator,
// one agent per circuit role, and an automatic traffic injector. Point a
// viewer at ws://<listen>/ws/viewer and watch.
//
// # Usage
//
//	go run ./cmd/demo
//	go run ./cmd/demo --listen=:8080 --inject-every=2s --narrator-url=http://localhost:9000/narrate
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onionlab/relaysim/cmd/common"
	"github.com/onionlab/relaysim/narrator"
	"github.com/onionlab/relaysim/sim"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		listenAddr  = flag.String("listen", "", "Coordinator HTTP listen address")
		metricsAddr = flag.String("metrics", "", "Prometheus listen address (empty disables)")
		injectEvery = flag.Duration("inject-every", 2*time.Second, "Automatic traffic injection period (0 disables)")
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

	orch, err := sim.New(sim.Config{
		ListenAddr:  cfg.ListenAddr,
		MetricsAddr: cfg.MetricsAddr,
		InjectEvery: *injectEvery,
		Sim:         cfg.Sim,
		Narrator:    narrate,
		Log:         log,
	})
	if err != nil {
		fmt.Printf("Create demo error: %v\n", err)
		os.Exit(1)
	}

	if err := orch.Deploy(); err != nil {
		fmt.Printf("Deploy error: %v\n", err)
		os.Exit(1)
	}

	readyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.WaitReady(readyCtx); err != nil {
		fmt.Printf("Startup error: %v\n", err)
		orch.Shutdown()
		os.Exit(1)
	}
	log.Info("Demo ready", "viewer", fmt.Sprintf("ws://%s/ws/viewer", cfg.ListenAddr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("Shutting down demo...")
	orch.Shutdown()
}

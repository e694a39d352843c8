// Command agent runs a standalone relay agent for one circuit role.
//
// The agent dials the coordinator's websocket endpoint, registers its role,
// and processes forwarded packets: peel one layer, apply the configured
// jitter, report the role-restricted hop event and hand the packet back.
// On connection loss it re-dials until stopped.
//
// # Configuration File
//
// Create a YAML file with agent settings:
//
//	coordinator_url: "ws://localhost:8080/ws/agent"
//	role: "guard"             # guard, middle, or exit
//	relay_addr: "10.0.1.1"    # simulated relay address
//	sim:
//	  jitter_min: 50ms
//	  jitter_max: 150ms
//
// # Usage
//
//	go run ./cmd/agent --config=agent.yaml
//	go run ./cmd/agent --role=guard --coordinator=ws://localhost:8080/ws/agent
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/onionlab/relaysim/cmd/common"
	"github.com/onionlab/relaysim/protocol"
	"github.com/onionlab/relaysim/relay"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to YAML config file")
		roleName       = flag.String("role", "", "Circuit role: guard, middle, or exit")
		relayAddr      = flag.String("addr", "", "Simulated relay address")
		coordinatorURL = flag.String("coordinator", "", "Coordinator agent endpoint URL")
		logJSON        = flag.Bool("log-json", false, "Log in JSON format")
		logDebug       = flag.Bool("log-debug", false, "Enable debug logging")
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
	if *roleName != "" {
		cfg.Role = *roleName
	}
	if *relayAddr != "" {
		cfg.RelayAddr = *relayAddr
	}
	if *coordinatorURL != "" {
		cfg.CoordinatorURL = *coordinatorURL
	}

	role, err := protocol.ParseRole(cfg.Role)
	if err != nil {
		fmt.Printf("Error: %v (via --role or config file)\n", err)
		os.Exit(1)
	}
	if cfg.CoordinatorURL == "" {
		fmt.Println("Error: coordinator_url is required (via --coordinator or config file)")
		os.Exit(1)
	}
	if cfg.RelayAddr == "" {
		cfg.RelayAddr = fmt.Sprintf("10.0.1.%d", role.HopIndex()+1)
	}

	log := common.NewLogger(*logJSON || cfg.LogJSON, *logDebug || cfg.LogDebug)

	agent, err := relay.New(relay.Config{
		Role:           role,
		Addr:           cfg.RelayAddr,
		CoordinatorURL: cfg.CoordinatorURL,
		Sim:            cfg.Sim,
		Log:            log,
	})
	if err != nil {
		fmt.Printf("Create agent error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Agent running", "role", role, "coordinator", cfg.CoordinatorURL)
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("Agent error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Agent stopped")
}

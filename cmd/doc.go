// Package cmd provides CLI commands for the relaysim services.
//
// # Commands
//
// coordinator: Runs the hub. Accepts relay agents on /ws/agent and viewers on
// /ws/viewer, routes packets through the circuit, and runs the scheduled
// timing-correlation analysis.
//
//	go run ./cmd/coordinator --listen=:8080 --metrics=:9090
//	go run ./cmd/coordinator --config=coordinator.yaml
//
// agent: Runs one relay agent for a fixed circuit role. Re-dials the
// coordinator on connection loss.
//
//	go run ./cmd/agent --role=guard --coordinator=ws://localhost:8080/ws/agent
//	go run ./cmd/agent --config=agent.yaml
//
// demo: Runs the full simulation in one process: coordinator, all three
// agents, and an automatic traffic injector.
//
//	go run ./cmd/demo --listen=:8080 --inject-every=2s
//
// # Configuration
//
// All commands support YAML configuration files via the --config flag.
// Command-line flags override config file values.
//
// Example config:
//
//	listen_addr: ":8080"
//	metrics_addr: ":9090"
//	coordinator_url: "ws://localhost:8080/ws/agent"
//	role: "guard"
//	narrator_url: ""
//	sim:
//	  circuit_length: 3
//	  jitter_min: 50ms
//	  jitter_max: 150ms
//	  max_window: 2s
//	  correlation_interval: 10s
package cmd

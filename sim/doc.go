// Package sim deploys a complete simulation in one process: a coordinator,
// one agent per circuit role, and an optional automatic traffic injector.
//
// It exists for the demo binary and the end-to-end tests; production-style
// deployments run cmd/coordinator and cmd/agent as separate processes and do
// not use this package.
package sim

// Package httpserver provides the reusable HTTP server the coordinator runs
// on: standard health endpoints, graceful shutdown, metrics and flexible
// routing.
//
// Components expose their endpoints by implementing RouteRegistrar; the
// coordinator registers its websocket and REST routes this way. Every server
// built on BaseServer automatically carries:
//
//   - Liveness check (/livez) and readiness check (/readyz)
//   - Drain control for load balancers (/drain, /undrain)
//   - Optional Prometheus metrics listener
//   - Optional pprof debugging endpoints
//
// Typical use:
//
//	srv, err := httpserver.New(cfg, coordinatorHandler)
//	if err != nil { ... }
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver

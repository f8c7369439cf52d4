// Package api implements the HTTP control and inspection server of the
// simulator.
//
// This package provides:
//   - Static asset serving with a path policy that rejects traversal before any open
//   - POST /api, /api/data and /api/request, delegated to a Delegate
//   - GET /api/status with the lifecycle snapshot
//   - GET /api/events WebSocket stream of lifecycle events
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Lifecycle
//
// Startup hooks run, in registration order, before the listener is opened.
// If one fails the listener is never opened, so no request is accepted
// while the protocol server is down. Shutdown hooks run, in reverse order,
// after the HTTP server has stopped accepting.
//
//	srv, err := api.New(deps)
//	srv.OnStartup(startProtocol)
//	srv.OnShutdown(stopProtocol)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Close()
//
// There is no authentication.
package api

// Package transport defines the handler interfaces and middleware chain
// between the plotwise HTTP surface and the visualization engine.
//
// # Handler Interfaces
//
//   - Visualizer runs the core visualize operation. It is the only
//     operation wrapped by the middleware chain because it is the only one
//     that can run for minutes.
//   - Service is the full surface the HTTP adapter serves: datasets, runs,
//     artifacts, ratings and health. *engine.Engine implements it.
//
// # Middleware
//
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID) and structured logging via log/slog. HTTP-level concerns
// (metrics, auth, body limits) live in the http subpackage and in
// pkg/auth and pkg/observability.
package transport

// Package app wires the activation daemon together and manages its
// lifecycle.
//
// New builds every component from a *config.Config:
//
//  1. OpenTelemetry providers and the activation, gate and status feed
//     instruments
//  2. the activation store (file, memory or redis) and the device
//     identifier provider
//  3. the engine, with the websocket hub registered as a listener
//  4. services, handlers, middleware and the HTTP server
//
// Run starts the hub and the server and blocks until the context is
// cancelled or SIGINT/SIGTERM arrives, then shuts everything down in
// reverse order. Errors are returned to the caller; the package never
// calls os.Exit.
package app

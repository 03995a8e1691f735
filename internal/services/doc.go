// Package services sits between the HTTP handlers and the activation
// engine.
//
// ActivationService resolves the local device identifier through a
// device.Provider before every engine call that needs one, so handlers
// never see raw identifiers. Responses carry masked device ids only.
//
// HealthService backs the /api/health endpoints. Readiness probes the
// activation store and the device provider concurrently and reports
// each dependency separately.
//
// Errors from the engine are returned unchanged; the transport layer
// maps them to problem documents with errors.FromActivation.
package services

// Package http implements the HTTP handlers of the activation daemon.
//
// Handlers stay thin: they decode and validate the request, call a
// service, and render either JSON or an RFC 7807 problem document.
// Activation failures are mapped to problem types by
// errors.FromActivation, so a device mismatch is a 403 and an expired
// window a 422 regardless of which endpoint produced it.
//
// Routes mounted under /api/activation:
//
//	GET  /status            current activation state
//	GET  /info              state plus a human readable summary
//	POST /activate          {"token": "..."}
//	POST /activate/offline  {"uuid", "start_date", "duration_seconds"}
//	POST /deactivate        clear the stored activation
//	POST /debug             per-check report for a token, no side effects
package http

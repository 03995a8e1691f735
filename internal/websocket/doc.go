// Package websocket serves the activation status feed.
//
// A Hub fans out JSON messages to every connected Client. The engine's
// state changes reach the hub through Hub.Listener, and each new client
// receives a "status" snapshot right after it connects, so a UI never
// has to poll /api/activation/status.
package websocket

package websocket

import (
	"time"

	"notiflogger/internal/activation"
)

// Message types sent to clients.
const (
	TypeConnection = "connection"
	TypeStatus     = "status"
	TypeActivation = "activation"
	TypeHeartbeat  = "heartbeat"
)

// Message is the envelope of every frame written to a client.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// StatusEvent describes the activation state. Device ids are masked.
type StatusEvent struct {
	Event          string     `json:"event"`
	State          string     `json:"state"`
	Active         bool       `json:"active"`
	DeviceIDMasked string     `json:"device_id_masked,omitempty"`
	ActivationUUID string     `json:"activation_uuid,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	At             time.Time  `json:"at"`
}

// NewStatusEvent converts an engine event.
func NewStatusEvent(ev activation.Event) StatusEvent {
	return statusEvent(string(ev.Type), ev.Record, ev.Record.State(ev.At), ev.At)
}

// NewSnapshotEvent converts the engine's current view.
func NewSnapshotEvent(info activation.Info) StatusEvent {
	return statusEvent("snapshot", info.Record, info.State, info.CheckedAt)
}

func statusEvent(event string, rec activation.Record, state activation.State, at time.Time) StatusEvent {
	se := StatusEvent{
		Event:          event,
		State:          string(state),
		Active:         state == activation.StateActive,
		DeviceIDMasked: activation.MaskID(rec.BoundDeviceID),
		ActivationUUID: rec.ActivationUUID,
		At:             at.UTC(),
	}
	if t := rec.ExpiresAtTime(); !t.IsZero() {
		se.ExpiresAt = &t
	}
	return se
}

package activation

import (
	"fmt"
	"strings"
	"time"
)

// Record is the persisted activation decision. Times are epoch
// milliseconds, UTC. The zero value is the cleared record.
type Record struct {
	IsActive       bool   `json:"is_active"`
	ActivatedAt    int64  `json:"activated_at"`
	ExpiresAt      int64  `json:"expires_at"`
	BoundDeviceID  string `json:"bound_device_id"`
	ActivationUUID string `json:"activation_uuid"`
}

// IsZero reports whether r is the cleared record.
func (r Record) IsZero() bool {
	return r == Record{}
}

// Expired reports whether now is past the expiry. A record that never
// carried an expiry is not expired.
func (r Record) Expired(now time.Time) bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return toMillis(now) > r.ExpiresAt
}

// State classifies r at the instant now.
func (r Record) State(now time.Time) State {
	switch {
	case !r.IsActive:
		return StateUnactivated
	case r.Expired(now):
		return StateExpired
	default:
		return StateActive
	}
}

// Remaining returns the time left before expiry, or zero.
func (r Record) Remaining(now time.Time) time.Duration {
	if !r.IsActive {
		return 0
	}
	left := r.ExpiresAt - toMillis(now)
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

// ActivatedAtTime returns ActivatedAt as a time, zero when unset.
func (r Record) ActivatedAtTime() time.Time {
	if r.ActivatedAt == 0 {
		return time.Time{}
	}
	return fromMillis(r.ActivatedAt)
}

// ExpiresAtTime returns ExpiresAt as a time, zero when unset.
func (r Record) ExpiresAtTime() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return fromMillis(r.ExpiresAt)
}

// Summary renders the human-readable activation info shown to users.
func (r Record) Summary() string {
	if !r.IsActive {
		return "not activated"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "activated: %s\n", r.ActivatedAtTime().Format(time.RFC3339))
	fmt.Fprintf(&b, "expires: %s\n", r.ExpiresAtTime().Format(time.RFC3339))
	fmt.Fprintf(&b, "device: %s\n", r.BoundDeviceID)
	fmt.Fprintf(&b, "uuid: %s", r.ActivationUUID)
	return b.String()
}

// State is the activation state machine position.
type State string

const (
	StateUnactivated State = "unactivated"
	StateActive      State = "active"
	// StateExpired is transient: the next observation through the
	// engine clears the record and reports StateUnactivated.
	StateExpired State = "expired"
)

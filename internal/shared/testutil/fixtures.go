package testutil

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"notiflogger/internal/activation"
)

// Epoch is the reference instant used by activation fixtures.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// TokenFixture describes a token to mint for a test.
type TokenFixture struct {
	DeviceID string
	UUID     string
	Start    time.Time
	Duration time.Duration
}

// Token encodes f, filling a random uuid when none is set.
func (f TokenFixture) Token(t *testing.T) string {
	t.Helper()
	id := f.UUID
	if id == "" {
		id = uuid.NewString()
	}
	token, err := activation.Encode(activation.ClaimSet{
		DeviceID:        f.DeviceID,
		ActivationUUID:  id,
		StartTime:       f.Start,
		DurationSeconds: int64(f.Duration / time.Second),
	})
	require.NoError(t, err)
	return token
}

// ValidToken returns a one hour token for deviceID starting at Epoch.
func ValidToken(t *testing.T, deviceID string) string {
	return TokenFixture{DeviceID: deviceID, Start: Epoch, Duration: time.Hour}.Token(t)
}

// RawToken encodes an arbitrary payload the way tokens are transported.
func RawToken(payload string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// NewEngine returns an engine over a memory store with a manual clock
// set to at.
func NewEngine(at time.Time, opts ...activation.Option) (*activation.Engine, *activation.ManualClock) {
	clock := activation.NewManualClock(at)
	opts = append([]activation.Option{activation.WithClock(clock)}, opts...)
	return activation.NewEngine(activation.NewMemoryStore(), opts...), clock
}

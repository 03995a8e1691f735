package activation

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// rawToken encodes an arbitrary JSON document as a token.
func rawToken(payload string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func mustToken(t *testing.T, deviceID, uuid string, start time.Time, seconds int64) string {
	t.Helper()
	token, err := Encode(ClaimSet{
		DeviceID:        deviceID,
		ActivationUUID:  uuid,
		StartTime:       start,
		DurationSeconds: seconds,
	})
	require.NoError(t, err)
	return token
}

// d1Token is the reference token for device D1, valid for one hour
// from 2025-01-01T00:00:00Z.
func d1Token() string {
	return rawToken(`{"device_id":"D1","uuid":"U1","start_date":"2025-01-01T00:00:00Z","duration_seconds":3600}`)
}

// failingStore fails loads and/or saves on demand and counts writes.
type failingStore struct {
	mu      sync.Mutex
	inner   *MemoryStore
	loadErr error
	saveErr error
	saves   int
}

func newFailingStore() *failingStore {
	return &failingStore{inner: NewMemoryStore()}
}

func (s *failingStore) Load(ctx context.Context) (Record, error) {
	s.mu.Lock()
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return Record{}, storeError("load", err)
	}
	return s.inner.Load(ctx)
}

func (s *failingStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	s.saves++
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return storeError("save", err)
	}
	return s.inner.Save(ctx, rec)
}

func (s *failingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

var errDisk = errors.New("disk unavailable")

package activation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite
	ctx    context.Context
	clock  *ManualClock
	store  *MemoryStore
	engine *Engine
	events []Event
	mu     sync.Mutex
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = NewManualClock(epoch.Add(30 * time.Minute))
	s.store = NewMemoryStore()
	s.events = nil
	s.engine = NewEngine(s.store,
		WithClock(s.clock),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithListener(func(_ context.Context, ev Event) {
			s.mu.Lock()
			s.events = append(s.events, ev)
			s.mu.Unlock()
		}),
	)
}

func (s *EngineTestSuite) eventTypes() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		types = append(types, ev.Type)
	}
	return types
}

func (s *EngineTestSuite) stored() Record {
	rec, err := s.store.Load(s.ctx)
	s.Require().NoError(err)
	return rec
}

func (s *EngineTestSuite) TestValidateReferenceScenario() {
	rec, err := s.engine.Validate(s.ctx, "D1", d1Token())
	s.Require().NoError(err)

	s.True(rec.IsActive)
	s.Equal(s.clock.Now().UnixMilli(), rec.ActivatedAt, "activated at validation time, not token start")
	s.Equal(time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC).UnixMilli(), rec.ExpiresAt)
	s.Equal("D1", rec.BoundDeviceID)
	s.Equal("U1", rec.ActivationUUID)
	s.Equal(rec, s.stored())

	active, err := s.engine.IsActive(s.ctx)
	s.Require().NoError(err)
	s.True(active)
	s.Equal([]EventType{EventActivated}, s.eventTypes())
}

func (s *EngineTestSuite) TestValidateDeviceMismatchLeavesStoreUnchanged() {
	_, err := s.engine.Validate(s.ctx, "D2", d1Token())
	s.ErrorIs(err, ErrDeviceMismatch)
	s.True(s.stored().IsZero())
	s.Empty(s.eventTypes())
}

func (s *EngineTestSuite) TestValidateExpiredScenario() {
	s.clock.Set(time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC))
	_, err := s.engine.Validate(s.ctx, "D1", d1Token())
	s.ErrorIs(err, ErrExpired)
	s.True(s.stored().IsZero())
}

func (s *EngineTestSuite) TestValidateWindowBoundaries() {
	expiresAt := epoch.Add(time.Hour)
	tests := []struct {
		name string
		now  time.Time
		want error
	}{
		{"grace lower bound inclusive", epoch.Add(-GraceBuffer), nil},
		{"one ms before grace", epoch.Add(-GraceBuffer - time.Millisecond), ErrNotYetValid},
		{"inside grace", epoch.Add(-10 * time.Second), nil},
		{"exactly at start", epoch, nil},
		{"exactly at expiry", expiresAt, nil},
		{"one ms after expiry", expiresAt.Add(time.Millisecond), ErrExpired},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.clock.Set(tt.now)
			_, err := s.engine.Validate(s.ctx, "D1", d1Token())
			if tt.want == nil {
				s.NoError(err)
				s.True(s.stored().IsActive)
			} else {
				s.ErrorIs(err, tt.want)
				s.True(s.stored().IsZero())
			}
		})
	}
}

func (s *EngineTestSuite) TestValidateCheckOrder() {
	tests := []struct {
		name     string
		deviceID string
		token    string
		want     error
	}{
		{"missing device before empty token", "", "", ErrMissingDeviceID},
		{"missing device before decode", "", "garbage!", ErrMissingDeviceID},
		{"empty token", "D1", "  ", ErrEmptyToken},
		{"decode before device match", "D2", rawToken(`{"device_id":"D1"}`), ErrMissingField},
		{"device match before window", "D2", mustToken(s.T(), "D1", "U1", epoch.Add(-48*time.Hour), 60), ErrDeviceMismatch},
		{"device match is exact", "d1", d1Token(), ErrDeviceMismatch},
		{"device match does not trim", "D1 ", d1Token(), ErrDeviceMismatch},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.engine.Validate(s.ctx, tt.deviceID, tt.token)
			s.ErrorIs(err, tt.want)
		})
	}
}

func (s *EngineTestSuite) TestFailedValidationKeepsPriorActivation() {
	prior, err := s.engine.Validate(s.ctx, "D1", d1Token())
	s.Require().NoError(err)

	for _, token := range []string{
		"",
		"%%%",
		rawToken(`{}`),
		mustToken(s.T(), "D2", "U2", epoch, 3600),
		mustToken(s.T(), "D1", "U2", epoch.Add(24*time.Hour), 3600),
	} {
		_, err := s.engine.Validate(s.ctx, "D1", token)
		s.Error(err)
		s.Equal(prior, s.stored())
	}

	active, err := s.engine.IsActive(s.ctx)
	s.Require().NoError(err)
	s.True(active)
}

func (s *EngineTestSuite) TestRevalidationReplacesRecord() {
	_, err := s.engine.Validate(s.ctx, "D1", d1Token())
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)
	next := mustToken(s.T(), "D1", "U2", epoch, 7200)
	rec, err := s.engine.Validate(s.ctx, "D1", next)
	s.Require().NoError(err)
	s.Equal("U2", rec.ActivationUUID)
	s.Equal(epoch.Add(2*time.Hour).UnixMilli(), s.stored().ExpiresAt)
}

func (s *EngineTestSuite) TestIsActiveLazyExpiryClearsOnce() {
	_, err := s.engine.Validate(s.ctx, "D1", d1Token())
	s.Require().NoError(err)

	s.clock.Set(epoch.Add(time.Hour))
	active, err := s.engine.IsActive(s.ctx)
	s.Require().NoError(err)
	s.True(active, "valid at exactly expiresAt")

	s.clock.Advance(time.Millisecond)
	for i := 0; i < 3; i++ {
		active, err = s.engine.IsActive(s.ctx)
		s.Require().NoError(err)
		s.False(active)
	}
	s.True(s.stored().IsZero())
	s.Equal([]EventType{EventActivated, EventExpired}, s.eventTypes())
}

func (s *EngineTestSuite) TestIsActiveOnEmptyStore() {
	active, err := s.engine.IsActive(s.ctx)
	s.Require().NoError(err)
	s.False(active)
}

func (s *EngineTestSuite) TestDeactivateIsIdempotent() {
	_, err := s.engine.Validate(s.ctx, "D1", d1Token())
	s.Require().NoError(err)

	s.Require().NoError(s.engine.Deactivate(s.ctx))
	once := s.stored()
	s.Require().NoError(s.engine.Deactivate(s.ctx))
	s.Equal(once, s.stored())
	s.True(once.IsZero())

	active, err := s.engine.IsActive(s.ctx)
	s.Require().NoError(err)
	s.False(active)
}

func (s *EngineTestSuite) TestActivateOffline() {
	start := s.clock.Now().Add(-time.Minute)
	rec, err := s.engine.Activate(s.ctx, "D1", "U9", start, 600)
	s.Require().NoError(err)
	s.Equal(s.clock.Now().UnixMilli(), rec.ActivatedAt)
	s.Equal(start.Add(10*time.Minute).UnixMilli(), rec.ExpiresAt)
	s.Equal("D1", s.stored().BoundDeviceID)
}

func (s *EngineTestSuite) TestActivateOutOfWindow() {
	now := s.clock.Now()
	tests := []struct {
		name     string
		start    time.Time
		duration int64
		want     error
	}{
		{"start in future, no grace", now.Add(time.Second), 3600, ErrOutOfWindow},
		{"start within grace still rejected", now.Add(10 * time.Second), 3600, ErrOutOfWindow},
		{"already expired", now.Add(-2 * time.Hour), 3600, ErrOutOfWindow},
		{"negative duration", now, -1, ErrOutOfWindow},
		{"exactly at start", now, 0, nil},
		{"exactly at expiry", now.Add(-time.Hour), 3600, nil},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			_, err := s.engine.Activate(s.ctx, "D1", "U1", tt.start, tt.duration)
			if tt.want == nil {
				s.NoError(err)
			} else {
				s.ErrorIs(err, tt.want)
				s.True(s.stored().IsZero())
			}
		})
	}
}

func (s *EngineTestSuite) TestActivateRequiresDevice() {
	_, err := s.engine.Activate(s.ctx, "", "U1", s.clock.Now(), 60)
	s.ErrorIs(err, ErrMissingDeviceID)
}

func (s *EngineTestSuite) TestInfoAndAccessors() {
	info, err := s.engine.Info(s.ctx)
	s.Require().NoError(err)
	s.Equal(StateUnactivated, info.State)
	s.Equal("not activated", info.Summary())

	_, err = s.engine.Validate(s.ctx, "D1", d1Token())
	s.Require().NoError(err)

	info, err = s.engine.Info(s.ctx)
	s.Require().NoError(err)
	s.Equal(StateActive, info.State)
	s.Equal(30*time.Minute, info.Remaining)
	s.Contains(info.Summary(), "device: D1")
	s.Contains(info.Summary(), "uuid: U1")
	s.Contains(info.Summary(), "expires: 2025-01-01T01:00:00Z")

	expires, err := s.engine.ExpiresAt(s.ctx)
	s.Require().NoError(err)
	s.True(expires.Equal(epoch.Add(time.Hour)))

	activated, err := s.engine.ActivatedAt(s.ctx)
	s.Require().NoError(err)
	s.True(activated.Equal(s.clock.Now()))
}

func (s *EngineTestSuite) TestConcurrentValidateAndDeactivate() {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.engine.Validate(s.ctx, "D1", d1Token())
			} else {
				_ = s.engine.Deactivate(s.ctx)
			}
			_, _ = s.engine.IsActive(s.ctx)
		}(i)
	}
	wg.Wait()

	rec := s.stored()
	s.True(rec.IsZero() || (rec.IsActive && rec.BoundDeviceID == "D1" && rec.ActivationUUID == "U1"))
}

// A zero-length window is valid only at its single instant, where the
// record has ActivatedAt == ExpiresAt.
func (s *EngineTestSuite) TestValidateZeroDurationAtStart() {
	s.clock.Set(epoch)
	rec, err := s.engine.Validate(s.ctx, "D1", mustToken(s.T(), "D1", "U0", epoch, 0))
	s.Require().NoError(err)
	s.Equal(epoch.UnixMilli(), rec.ActivatedAt)
	s.Equal(rec.ActivatedAt, rec.ExpiresAt)

	active, err := s.engine.IsActive(s.ctx)
	s.Require().NoError(err)
	s.True(active)

	s.clock.Set(epoch.Add(time.Millisecond))
	active, err = s.engine.IsActive(s.ctx)
	s.Require().NoError(err)
	s.False(active)
	s.True(s.stored().IsZero())
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestStoreFailuresAreInfrastructure(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock(epoch.Add(time.Minute))
	store := newFailingStore()
	engine := NewEngine(store, WithClock(clock), WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))

	store.saveErr = errDisk
	_, err := engine.Validate(ctx, "D1", d1Token())
	require.Error(t, err)
	assert.True(t, IsInfrastructure(err))
	assert.False(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrStoreIO)
	assert.ErrorIs(t, err, errDisk)

	_, err = engine.Activate(ctx, "D1", "U1", clock.Now(), 60)
	assert.True(t, IsInfrastructure(err))

	assert.True(t, IsInfrastructure(engine.Deactivate(ctx)))

	store.saveErr = nil
	store.loadErr = errDisk
	active, err := engine.IsActive(ctx)
	assert.False(t, active)
	assert.True(t, IsInfrastructure(err))
}

func TestValidationFailureDoesNotTouchStore(t *testing.T) {
	ctx := context.Background()
	store := newFailingStore()
	engine := NewEngine(store, WithClock(NewManualClock(epoch)), WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))

	_, err := engine.Validate(ctx, "D2", d1Token())
	require.ErrorIs(t, err, ErrDeviceMismatch)
	assert.Zero(t, store.saveCount())
}

func TestExpiryWriteFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock(epoch)
	store := newFailingStore()
	engine := NewEngine(store, WithClock(clock), WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))

	_, err := engine.Validate(ctx, "D1", d1Token())
	require.NoError(t, err)

	clock.Set(epoch.Add(2 * time.Hour))
	store.saveErr = errDisk
	_, err = engine.IsActive(ctx)
	assert.True(t, IsInfrastructure(err))

	store.saveErr = nil
	active, err := engine.IsActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

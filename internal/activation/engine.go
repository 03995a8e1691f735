package activation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"notiflogger/internal/infrastructure"
)

// GraceBuffer is subtracted from a token's start time when checking the
// lower bound of its window, to absorb skew between the issuing clock
// and this device. The upper bound has no grace.
const GraceBuffer = 30 * time.Second

// EventType names an activation state change.
type EventType string

const (
	EventActivated   EventType = "activated"
	EventDeactivated EventType = "deactivated"
	EventExpired     EventType = "expired"
)

// Event is delivered to listeners after the change has been persisted.
type Event struct {
	Type   EventType `json:"type"`
	Record Record    `json:"record"`
	At     time.Time `json:"at"`
}

// Listener observes state changes. Listeners run synchronously after
// the engine lock is released and must not block.
type Listener func(ctx context.Context, ev Event)

// Engine decides whether this device is activated and persists that
// decision. All read-modify-write sequences on the record are
// serialized by a single mutex.
type Engine struct {
	mu        sync.Mutex
	store     Store
	clock     Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	listeners []Listener
	debugLog  *DebugLog
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithListener registers l for state change events.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithDebugLog appends every debug report to d.
func WithDebugLog(d *DebugLog) Option {
	return func(e *Engine) { e.debugLog = d }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  SystemClock{},
		logger: infrastructure.GetLogger(),
		tracer: otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's notion of the current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Activate records an activation without a token. The window is
// [start, start+duration] with no grace on either side.
func (e *Engine) Activate(ctx context.Context, deviceID, activationUUID string, start time.Time, durationSeconds int64) (rec Record, err error) {
	ctx, span := e.startSpan(ctx, "activate",
		attribute.String("activation.device_hash", hashID(deviceID)),
		attribute.Int64("activation.duration_seconds", durationSeconds),
	)
	defer func() {
		e.metrics.recordActivation(ctx, err)
		endSpan(span, err)
	}()

	rec, err = e.applyActivation(ctx, deviceID, activationUUID, start, durationSeconds)
	if err != nil {
		e.logAction(ctx, levelFor(err), "activate", "rejected", append(failureAttrs(err), deviceAttrs(deviceID))...)
		return Record{}, err
	}

	e.logAction(ctx, slog.LevelInfo, "activate", "success",
		deviceAttrs(deviceID),
		slog.String("uuid_masked", MaskID(activationUUID)),
		slog.Time("expires_at", rec.ExpiresAtTime()),
	)
	e.notify(ctx, Event{Type: EventActivated, Record: rec, At: fromMillis(rec.ActivatedAt)})
	return rec, nil
}

func (e *Engine) applyActivation(ctx context.Context, deviceID, activationUUID string, start time.Time, durationSeconds int64) (Record, error) {
	if deviceID == "" {
		return Record{}, ErrMissingDeviceID
	}
	if durationSeconds < 0 {
		return Record{}, ErrOutOfWindow
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := toMillis(e.clock.Now())
	startMs := toMillis(start)
	expiresAt := addSeconds(startMs, durationSeconds)
	if now < startMs || now > expiresAt {
		return Record{}, ErrOutOfWindow
	}

	rec := Record{
		IsActive:       true,
		ActivatedAt:    now,
		ExpiresAt:      expiresAt,
		BoundDeviceID:  deviceID,
		ActivationUUID: activationUUID,
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Validate checks token against deviceID and the current time and, on
// success, persists the activation. A rejected token leaves any prior
// activation untouched.
func (e *Engine) Validate(ctx context.Context, deviceID, token string) (rec Record, err error) {
	started := time.Now()
	ctx, span := e.startSpan(ctx, "validate",
		attribute.String("activation.device_hash", hashID(deviceID)),
		attribute.Int("activation.token_length", len(token)),
	)
	defer func() {
		e.metrics.recordValidation(ctx, started, err)
		endSpan(span, err)
	}()

	rec, err = e.applyToken(ctx, deviceID, token)
	if err != nil {
		e.logAction(ctx, levelFor(err), "validate", "rejected", append(failureAttrs(err), deviceAttrs(deviceID))...)
		return Record{}, err
	}

	e.logAction(ctx, slog.LevelInfo, "validate", "success",
		deviceAttrs(deviceID),
		slog.String("uuid_masked", MaskID(rec.ActivationUUID)),
		slog.Time("expires_at", rec.ExpiresAtTime()),
	)
	e.notify(ctx, Event{Type: EventActivated, Record: rec, At: fromMillis(rec.ActivatedAt)})
	return rec, nil
}

func (e *Engine) applyToken(ctx context.Context, deviceID, token string) (Record, error) {
	claims, err := checkClaims(deviceID, token)
	if err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := toMillis(e.clock.Now())
	expiresAt := claims.ExpiresAtMillis()
	if err := checkWindow(now, claims.StartMillis(), expiresAt); err != nil {
		return Record{}, err
	}

	rec := Record{
		IsActive:       true,
		ActivatedAt:    now,
		ExpiresAt:      expiresAt,
		BoundDeviceID:  deviceID,
		ActivationUUID: claims.ActivationUUID,
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// checkClaims runs the time-independent checks in their fixed order.
func checkClaims(deviceID, token string) (ClaimSet, error) {
	if deviceID == "" {
		return ClaimSet{}, ErrMissingDeviceID
	}
	claims, err := Decode(token)
	if err != nil {
		return ClaimSet{}, err
	}
	if claims.DeviceID != deviceID {
		return ClaimSet{}, ErrDeviceMismatch
	}
	return claims, nil
}

// checkWindow applies the token window: the lower bound is start minus
// GraceBuffer, inclusive; the upper bound is expiresAt, inclusive.
func checkWindow(now, startMs, expiresAt int64) error {
	if now < startMs-GraceBuffer.Milliseconds() {
		return ErrNotYetValid
	}
	if now > expiresAt {
		return ErrExpired
	}
	return nil
}

// IsActive reports whether the device is currently activated. An
// expired record is cleared on observation; there is no background
// expiry.
func (e *Engine) IsActive(ctx context.Context) (bool, error) {
	rec, err := e.Current(ctx)
	if err != nil {
		return false, err
	}
	return rec.IsActive, nil
}

// Current returns the record after applying lazy expiry.
func (e *Engine) Current(ctx context.Context) (rec Record, err error) {
	ctx, span := e.startSpan(ctx, "status")
	defer func() { endSpan(span, err) }()
	e.metrics.recordStatusCheck(ctx)

	var expired Record
	rec, expired, err = e.loadCurrent(ctx)
	if err != nil {
		e.metrics.recordStoreError(ctx, err)
		e.logAction(ctx, slog.LevelError, "status", "store_failure", failureAttrs(err)...)
		return Record{}, err
	}

	if expired.IsActive {
		e.metrics.recordExpiration(ctx)
		e.logAction(ctx, slog.LevelInfo, "status", "expired_cleared",
			deviceAttrs(expired.BoundDeviceID),
			slog.Time("expired_at", expired.ExpiresAtTime()),
		)
		e.notify(ctx, Event{Type: EventExpired, Record: expired, At: e.clock.Now()})
	}
	return rec, nil
}

func (e *Engine) loadCurrent(ctx context.Context) (current, expired Record, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.Load(ctx)
	if err != nil {
		return Record{}, Record{}, err
	}
	if !rec.IsActive {
		return rec, Record{}, nil
	}
	if rec.Expired(e.clock.Now()) {
		if err := e.store.Save(ctx, Record{}); err != nil {
			return Record{}, Record{}, err
		}
		return Record{}, rec, nil
	}
	return rec, Record{}, nil
}

// Deactivate clears the record. Calling it on a cleared record is a
// no-op apart from the write.
func (e *Engine) Deactivate(ctx context.Context) (err error) {
	ctx, span := e.startSpan(ctx, "deactivate")
	defer func() { endSpan(span, err) }()

	e.mu.Lock()
	err = e.store.Save(ctx, Record{})
	e.mu.Unlock()
	if err != nil {
		e.metrics.recordStoreError(ctx, err)
		e.logAction(ctx, slog.LevelError, "deactivate", "store_failure", failureAttrs(err)...)
		return err
	}

	e.metrics.recordDeactivation(ctx)
	e.logAction(ctx, slog.LevelInfo, "deactivate", "success")
	e.notify(ctx, Event{Type: EventDeactivated, At: e.clock.Now()})
	return nil
}

// Info returns the current record with lazy expiry applied, together
// with its state and remaining time.
func (e *Engine) Info(ctx context.Context) (Info, error) {
	rec, err := e.Current(ctx)
	if err != nil {
		return Info{}, err
	}
	return e.Snapshot(rec), nil
}

// Snapshot describes rec as of the engine clock without reading the
// store.
func (e *Engine) Snapshot(rec Record) Info {
	now := e.clock.Now()
	return Info{
		Record:    rec,
		State:     rec.State(now),
		Remaining: rec.Remaining(now),
		CheckedAt: now,
	}
}

// ExpiresAt returns the persisted expiry, zero when not activated.
func (e *Engine) ExpiresAt(ctx context.Context) (time.Time, error) {
	rec, err := e.Current(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return rec.ExpiresAtTime(), nil
}

// ActivatedAt returns the persisted activation time, zero when not
// activated.
func (e *Engine) ActivatedAt(ctx context.Context) (time.Time, error) {
	rec, err := e.Current(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return rec.ActivatedAtTime(), nil
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	for _, l := range e.listeners {
		l(ctx, ev)
	}
}

// Info is a snapshot of the activation for display.
type Info struct {
	Record    Record
	State     State
	Remaining time.Duration
	CheckedAt time.Time
}

// Summary renders the snapshot as text.
func (i Info) Summary() string {
	return i.Record.Summary()
}

package activation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Window verdicts reported by DebugReport.
const (
	WindowUnknown     = "unknown"
	WindowValid       = "valid"
	WindowNotYetValid = "not_yet_valid"
	WindowExpired     = "expired"
)

// Check is one step of a debug report.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report explains how a token would be judged, without persisting
// anything. Every failure is captured as a field; nothing is returned
// as an error.
type Report struct {
	GeneratedAt     time.Time       `json:"generated_at"`
	DeviceID        string          `json:"device_id"`
	DeviceIDPresent bool            `json:"device_id_present"`
	TokenLength     int             `json:"token_length"`
	Base64OK        bool            `json:"base64_ok"`
	JSONOK          bool            `json:"json_ok"`
	Fields          map[string]bool `json:"fields"`
	TokenDeviceID   string          `json:"token_device_id,omitempty"`
	ActivationUUID  string          `json:"activation_uuid,omitempty"`
	StartDate       string          `json:"start_date,omitempty"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	DurationSeconds int64           `json:"duration_seconds"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	DeviceMatch     bool            `json:"device_match"`
	Now             time.Time       `json:"now"`
	SkewMinutes     int64           `json:"skew_minutes"`
	Window          string          `json:"window"`
	Checks          []Check         `json:"checks"`
	Valid           bool            `json:"valid"`
	FailureKind     string          `json:"failure_kind,omitempty"`
	Failure         string          `json:"failure,omitempty"`
}

func (r *Report) pass(name, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: true, Detail: detail})
}

// fail records the first failure as the verdict; later failures are
// listed as checks only.
func (r *Report) fail(name string, err error) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: false, Detail: err.Error()})
	if r.FailureKind == "" {
		r.FailureKind = KindOf(err).String()
		r.Failure = err.Error()
	}
}

// DebugReport runs the same checks as Validate against the current
// time and reports each outcome. It never writes to the store.
func (e *Engine) DebugReport(ctx context.Context, deviceID, token string) (report Report) {
	now := e.clock.Now()
	report = buildReport(now, deviceID, token)

	e.metrics.recordDebugReport(ctx, report.Valid)
	e.logAction(ctx, slog.LevelDebug, "debug_report", report.verdict(),
		deviceAttrs(deviceID),
		slog.Int("token_length", report.TokenLength),
		slog.String("window", report.Window),
		slog.Int64("skew_minutes", report.SkewMinutes),
	)
	if e.debugLog != nil {
		if err := e.debugLog.Append(report); err != nil {
			e.logAction(ctx, slog.LevelWarn, "debug_report", "debug_log_failed", slog.String("error", err.Error()))
		}
	}
	return report
}

func buildReport(now time.Time, deviceID, token string) (report Report) {
	report = Report{
		GeneratedAt:     now,
		Now:             now.UTC(),
		DeviceID:        deviceID,
		DeviceIDPresent: deviceID != "",
		TokenLength:     len(strings.TrimSpace(token)),
		Fields:          make(map[string]bool, len(requiredFields)),
		Window:          WindowUnknown,
	}
	defer func() {
		if p := recover(); p != nil {
			report.Valid = false
			report.fail("internal", fmt.Errorf("report aborted: %v", p))
		}
	}()

	if report.DeviceIDPresent {
		report.pass("device_id", "")
	} else {
		report.fail("device_id", ErrMissingDeviceID)
	}

	if report.TokenLength == 0 {
		report.fail("token", ErrEmptyToken)
		return report
	}
	report.pass("token", "")

	raw, err := decodePayload(token)
	if err != nil {
		report.fail("base64", err)
		return report
	}
	report.Base64OK = true
	report.pass("base64", fmt.Sprintf("%d bytes", len(raw)))

	fields, err := decodeObject(raw)
	if err != nil {
		report.fail("json", err)
		return report
	}
	report.JSONOK = true
	report.pass("json", "")

	for _, name := range requiredFields {
		_, ok := present(fields, name)
		report.Fields[name] = ok
	}
	// Partial values help explain a failure even when decoding stops.
	report.TokenDeviceID, _ = stringField(fields, FieldDeviceID)
	report.ActivationUUID, _ = stringField(fields, FieldUUID)
	report.StartDate, _ = stringField(fields, FieldStartDate)

	claims, err := claimsFromFields(fields)
	if err != nil {
		report.fail("fields", err)
		return report
	}
	report.pass("fields", "")
	report.DurationSeconds = claims.DurationSeconds

	start := claims.StartTime
	expires := fromMillis(claims.ExpiresAtMillis())
	report.StartTime = &start
	report.ExpiresAt = &expires

	report.DeviceMatch = report.DeviceIDPresent && claims.DeviceID == deviceID
	if report.DeviceMatch {
		report.pass("device_match", "")
	} else if report.DeviceIDPresent {
		report.fail("device_match", ErrDeviceMismatch)
	}

	nowMs := toMillis(now)
	report.SkewMinutes = floorDiv(nowMs-claims.StartMillis(), time.Minute.Milliseconds())
	switch err := checkWindow(nowMs, claims.StartMillis(), claims.ExpiresAtMillis()); {
	case err == nil:
		report.Window = WindowValid
		report.pass("window", fmt.Sprintf("skew %d min", report.SkewMinutes))
	case KindOf(err) == KindNotYetValid:
		report.Window = WindowNotYetValid
		report.fail("window", err)
	default:
		report.Window = WindowExpired
		report.fail("window", err)
	}

	report.Valid = report.FailureKind == ""
	return report
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Masked returns a copy with both device ids masked, for output that
// leaves the process.
func (r Report) Masked() Report {
	r.DeviceID = MaskID(r.DeviceID)
	r.TokenDeviceID = MaskID(r.TokenDeviceID)
	return r
}

func (r Report) verdict() string {
	if r.Valid {
		return "valid"
	}
	return "invalid"
}

// String renders the report as the line-oriented text shown to users
// troubleshooting a token.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== activation debug %s ===\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "device id: %s\n", orNone(r.DeviceID))
	fmt.Fprintf(&b, "token length: %d\n", r.TokenLength)
	fmt.Fprintf(&b, "base64: %s\n", okText(r.Base64OK))
	fmt.Fprintf(&b, "json: %s\n", okText(r.JSONOK))
	for _, name := range requiredFields {
		if present, ok := r.Fields[name]; ok {
			fmt.Fprintf(&b, "field %s: %s\n", name, presentText(present))
		}
	}
	if r.TokenDeviceID != "" {
		fmt.Fprintf(&b, "token device id: %s\n", r.TokenDeviceID)
		fmt.Fprintf(&b, "device match: %s\n", okText(r.DeviceMatch))
	}
	if r.StartTime != nil {
		fmt.Fprintf(&b, "start: %s\n", r.StartTime.UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(&b, "expires: %s\n", r.ExpiresAt.UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(&b, "now: %s\n", r.Now.Format(time.RFC3339Nano))
		fmt.Fprintf(&b, "skew: %d min\n", r.SkewMinutes)
		fmt.Fprintf(&b, "window: %s\n", r.Window)
	}
	if r.Valid {
		b.WriteString("result: VALID\n")
	} else {
		fmt.Fprintf(&b, "result: INVALID (%s)\n", r.Failure)
	}
	return b.String()
}

func okText(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func presentText(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

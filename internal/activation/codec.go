package activation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Wire keys of the canonical token schema.
const (
	FieldDeviceID        = "device_id"
	FieldUUID            = "uuid"
	FieldStartDate       = "start_date"
	FieldDurationSeconds = "duration_seconds"
)

// ClaimSet is the decoded content of an activation token.
type ClaimSet struct {
	DeviceID        string
	ActivationUUID  string
	StartTime       time.Time
	DurationSeconds int64
}

// StartMillis returns the start time in epoch milliseconds.
func (c ClaimSet) StartMillis() int64 {
	return toMillis(c.StartTime)
}

// ExpiresAtMillis returns start + duration in epoch milliseconds,
// saturating instead of overflowing for absurd durations.
func (c ClaimSet) ExpiresAtMillis() int64 {
	return addSeconds(c.StartMillis(), c.DurationSeconds)
}

func addSeconds(startMs, seconds int64) int64 {
	if seconds > math.MaxInt64/1000 {
		return math.MaxInt64
	}
	ms := seconds * 1000
	if startMs > 0 && ms > math.MaxInt64-startMs {
		return math.MaxInt64
	}
	return startMs + ms
}

// Decode turns a token string into a ClaimSet. The token is URL-safe
// base64 (padding optional) of a UTF-8 JSON object.
func Decode(token string) (ClaimSet, error) {
	raw, err := decodePayload(token)
	if err != nil {
		return ClaimSet{}, err
	}
	fields, err := decodeObject(raw)
	if err != nil {
		return ClaimSet{}, err
	}
	return claimsFromFields(fields)
}

func decodePayload(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	// The decoder skips CR and LF; the token alphabet does not include them.
	if strings.ContainsAny(token, "\r\n") {
		return nil, newError(KindMalformedBase64, fmt.Errorf("token contains a line break"))
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, newError(KindMalformedBase64, err)
	}
	return raw, nil
}

func claimsFromFields(fields map[string]json.RawMessage) (ClaimSet, error) {
	var (
		claims ClaimSet
		err    error
	)
	if claims.DeviceID, err = stringField(fields, FieldDeviceID); err != nil {
		return ClaimSet{}, err
	}
	if claims.ActivationUUID, err = stringField(fields, FieldUUID); err != nil {
		return ClaimSet{}, err
	}
	startDate, err := stringField(fields, FieldStartDate)
	if err != nil {
		return ClaimSet{}, err
	}
	if claims.DurationSeconds, err = durationField(fields, FieldDurationSeconds); err != nil {
		return ClaimSet{}, err
	}
	if claims.StartTime, err = ParseStartTime(startDate); err != nil {
		return ClaimSet{}, err
	}
	return claims, nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	if !utf8.Valid(raw) {
		return nil, newError(KindMalformedJSON, fmt.Errorf("payload is not valid UTF-8"))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, newError(KindMalformedJSON, err)
	}
	if fields == nil {
		return nil, newError(KindMalformedJSON, fmt.Errorf("payload is not a JSON object"))
	}
	return fields, nil
}

// requiredFields lists the canonical keys in validation order.
var requiredFields = []string{FieldDeviceID, FieldUUID, FieldStartDate, FieldDurationSeconds}

func present(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	v, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	v, ok := present(fields, name)
	if !ok {
		return "", missingField(name)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil || s == "" {
		return "", missingField(name)
	}
	return s, nil
}

func durationField(fields map[string]json.RawMessage, name string) (int64, error) {
	v, ok := present(fields, name)
	if !ok {
		return 0, missingField(name)
	}
	var n int64
	if err := json.Unmarshal(v, &n); err != nil || n < 0 {
		return 0, missingField(name)
	}
	return n, nil
}

type wireClaims struct {
	DeviceID        string `json:"device_id"`
	UUID            string `json:"uuid"`
	StartDate       string `json:"start_date"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// Encode renders claims in the canonical wire form: unpadded URL-safe
// base64 of the JSON object. Tokens carry no signature.
func Encode(claims ClaimSet) (string, error) {
	if claims.DurationSeconds < 0 {
		return "", fmt.Errorf("duration must not be negative: %d", claims.DurationSeconds)
	}
	payload, err := json.Marshal(wireClaims{
		DeviceID:        claims.DeviceID,
		UUID:            claims.ActivationUUID,
		StartDate:       claims.StartTime.UTC().Format(CanonicalTimeLayout),
		DurationSeconds: claims.DurationSeconds,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

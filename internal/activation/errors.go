package activation

import (
	"errors"
	"fmt"
)

// Kind classifies why an activation operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindEmptyToken
	KindMalformedBase64
	KindMalformedJSON
	KindMissingField
	KindBadTimestamp
	KindMissingDeviceID
	KindDeviceMismatch
	KindNotYetValid
	KindExpired
	KindOutOfWindow
	KindStoreIO
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindEmptyToken:      "empty_token",
	KindMalformedBase64: "malformed_base64",
	KindMalformedJSON:   "malformed_json",
	KindMissingField:    "missing_field",
	KindBadTimestamp:    "bad_timestamp",
	KindMissingDeviceID: "missing_device_id",
	KindDeviceMismatch:  "device_mismatch",
	KindNotYetValid:     "not_yet_valid",
	KindExpired:         "expired",
	KindOutOfWindow:     "out_of_window",
	KindStoreIO:         "store_io",
}

// String returns the snake_case name used in logs, metrics and API responses.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors for use with errors.Is. Matching is by Kind, so
// errors.Is(err, ErrMissingField) holds for every missing field.
var (
	ErrEmptyToken      = &Error{Kind: KindEmptyToken}
	ErrMalformedBase64 = &Error{Kind: KindMalformedBase64}
	ErrMalformedJSON   = &Error{Kind: KindMalformedJSON}
	ErrMissingField    = &Error{Kind: KindMissingField}
	ErrBadTimestamp    = &Error{Kind: KindBadTimestamp}
	ErrMissingDeviceID = &Error{Kind: KindMissingDeviceID}
	ErrDeviceMismatch  = &Error{Kind: KindDeviceMismatch}
	ErrNotYetValid     = &Error{Kind: KindNotYetValid}
	ErrExpired         = &Error{Kind: KindExpired}
	ErrOutOfWindow     = &Error{Kind: KindOutOfWindow}
	ErrStoreIO         = &Error{Kind: KindStoreIO}
)

// Error is returned by every operation in this package.
type Error struct {
	Kind  Kind
	Field string // set for KindMissingField
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target
// with a Field set must also match the field name.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Field == "" || t.Field == e.Field
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func missingField(name string) *Error {
	return &Error{Kind: KindMissingField, Field: name}
}

func storeError(op string, err error) *Error {
	return &Error{Kind: KindStoreIO, Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf extracts the Kind from err, or KindUnknown when err did not
// originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsInfrastructure reports whether err means the decision could not be
// read or persisted, as opposed to a token or window being rejected.
func IsInfrastructure(err error) bool {
	return KindOf(err) == KindStoreIO
}

// IsValidation reports whether err is a rejection of the caller's input.
func IsValidation(err error) bool {
	k := KindOf(err)
	return k != KindUnknown && k != KindStoreIO
}

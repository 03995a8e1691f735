package errors

import (
	"errors"
	"net/http"

	"notiflogger/internal/activation"
)

type activationProblem struct {
	status int
	typ    string
	title  string
	detail string
}

var activationProblems = map[activation.Kind]activationProblem{
	activation.KindEmptyToken: {
		http.StatusBadRequest, TypeInvalidToken, "Invalid Activation Token",
		"The activation token is empty.",
	},
	activation.KindMalformedBase64: {
		http.StatusBadRequest, TypeInvalidToken, "Invalid Activation Token",
		"The activation token is not valid base64.",
	},
	activation.KindMalformedJSON: {
		http.StatusBadRequest, TypeInvalidToken, "Invalid Activation Token",
		"The activation token does not contain a JSON object.",
	},
	activation.KindMissingField: {
		http.StatusBadRequest, TypeMissingField, "Incomplete Activation Token",
		"The activation token is missing a required field.",
	},
	activation.KindBadTimestamp: {
		http.StatusBadRequest, TypeBadTimestamp, "Invalid Start Date",
		"The activation token start date is not in a recognized format.",
	},
	activation.KindMissingDeviceID: {
		http.StatusPreconditionFailed, TypeDeviceUnavailable, "Device Identifier Unavailable",
		"The device identifier could not be determined.",
	},
	activation.KindDeviceMismatch: {
		http.StatusForbidden, TypeDeviceMismatch, "Device Mismatch",
		"This activation token was issued for a different device.",
	},
	activation.KindNotYetValid: {
		http.StatusUnprocessableEntity, TypeNotYetValid, "Activation Not Yet Valid",
		"The activation window has not started yet.",
	},
	activation.KindExpired: {
		http.StatusUnprocessableEntity, TypeExpired, "Activation Expired",
		"The activation window has already ended.",
	},
	activation.KindOutOfWindow: {
		http.StatusUnprocessableEntity, TypeOutOfWindow, "Outside Activation Window",
		"The current time is outside the activation window.",
	},
	activation.KindStoreIO: {
		http.StatusServiceUnavailable, TypeStoreUnavailable, "Activation Store Unavailable",
		"The activation state could not be read or written.",
	},
}

// FromActivation maps an activation error onto problem details. Errors
// that did not come from the activation package yield nil.
func FromActivation(err error, instance string) *ProblemDetails {
	var actErr *activation.Error
	if !errors.As(err, &actErr) {
		return nil
	}

	p, ok := activationProblems[actErr.Kind]
	if !ok {
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			instance,
		)
	}

	problem := NewProblemDetails(p.status, p.typ, p.title, p.detail, instance).
		WithExtension("kind", actErr.Kind.String())
	if actErr.Field != "" {
		problem.WithExtension("field", actErr.Field)
	}
	return problem
}

// ActivationRequired is returned by gated endpoints while no activation
// is in effect.
func ActivationRequired(instance, state string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusPreconditionRequired,
		TypeActivationRequired,
		"Activation Required",
		"This feature requires an active activation.",
		instance,
	).WithExtension("state", state)
}

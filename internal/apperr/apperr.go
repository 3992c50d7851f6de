// Package apperr defines the error-kind taxonomy shared by the REST API and
// the session command dispatcher, so both surfaces classify failures through
// the same mapping instead of drifting apart.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of an error, independent of its message.
type Kind string

const (
	AuthMissing Kind = "AuthMissing"
	AuthInvalid Kind = "AuthInvalid"
	AuthExpired Kind = "AuthExpired"
	Forbidden   Kind = "Forbidden"
	Validation  Kind = "Validation"
	NotFound    Kind = "NotFound"
	Conflict    Kind = "Conflict"
	Internal    Kind = "Internal"
	RateLimited Kind = "RateLimited"
)

// Error is a typed application error carrying a Kind and a message safe to
// surface to the client.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Internal error carrying the original cause. The cause
// is never included in the client-facing message.
func Wrap(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: Internal, Message: "internal error", cause: err}
}

// As extracts the Kind and message for an arbitrary error, defaulting to
// Internal for errors that were never classified.
func As(err error) (Kind, string) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, ae.Message
	}
	return Internal, "internal error"
}

// HTTPStatus maps a Kind to the status code it produces on the REST surface.
func HTTPStatus(k Kind) int {
	switch k {
	case AuthMissing, AuthInvalid, AuthExpired:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Validation, Conflict:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WSCode maps a Kind to the machine-readable code carried on a session
// error event. Currently identical to the Kind name, kept as its own
// function so the wire code can diverge from the internal Kind later
// without touching call sites.
func WSCode(k Kind) string {
	return string(k)
}

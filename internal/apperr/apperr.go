// Package apperr classifies failures of the sync core so callers can branch on
// the class of error rather than on its text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindStorage covers secure store and fallback store failures.
	KindStorage Kind = "storage"
	// KindNetwork covers timeouts, refused connections and DNS failures.
	KindNetwork Kind = "network"
	// KindAuth is a 401 from the backend or a missing session.
	KindAuth Kind = "auth"
	// KindValidation is bad input from the caller.
	KindValidation Kind = "validation"
	// KindServer is any other non-2xx answer from the backend.
	KindServer Kind = "server"
)

// Error is a classified error.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an unwrapped Error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a kind and code to err.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// WithStatus records the HTTP status that produced the error.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithRetryable marks whether repeating the operation may succeed.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsUnauthorized reports whether err came from a 401 or a missing session.
func IsUnauthorized(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindAuth || ae.Status == http.StatusUnauthorized
	}
	return false
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

var (
	ErrNotAuthenticated = New(KindAuth, "NOT_AUTHENTICATED", "no session token")
	ErrInvalidReport    = New(KindValidation, "INVALID_REPORT", "report type must be video or audio")
)

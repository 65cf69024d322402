// Package apperror defines the discriminated error kinds shared by the
// stock ledger and the consultation workflow. Handlers map kinds to HTTP
// statuses at the edge; services never downgrade a kind to a generic error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a category of failure.
type Kind string

const (
	InvalidProductReference Kind = "INVALID_PRODUCT_REFERENCE"
	InvalidQuantity         Kind = "INVALID_QUANTITY"
	InsufficientStock       Kind = "INSUFFICIENT_STOCK"
	InvalidAdjustment       Kind = "INVALID_ADJUSTMENT"
	MissingRequiredField    Kind = "MISSING_REQUIRED_FIELD"
	InvalidTransition       Kind = "INVALID_TRANSITION"
	NotFound                Kind = "NOT_FOUND"
	ConcurrentModification  Kind = "CONCURRENT_MODIFICATION"
)

// Error carries a kind plus a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on kind, so sentinel values like
// apperror.New(apperror.NotFound, "") can be used as targets.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status a handler should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case ConcurrentModification:
		return http.StatusConflict
	case InvalidTransition, InsufficientStock, InvalidAdjustment:
		return http.StatusConflict
	case InvalidProductReference, InvalidQuantity, MissingRequiredField:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

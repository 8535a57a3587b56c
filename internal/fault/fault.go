// Package fault defines the error taxonomy shared across the daemon.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary handling and HTTP mapping.
type Kind string

const (
	BadRequest          Kind = "bad_request"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	UpstreamUnavailable Kind = "upstream_unavailable"
	UpstreamMalformed   Kind = "upstream_malformed"
	CaptureFailed       Kind = "capture_failed"
	StorageIO           Kind = "storage_io"
	Canceled            Kind = "canceled"
	Internal            Kind = "internal"
)

// Error carries a kind, the operation that failed, an optional field pointer
// for validation failures, and the underlying cause.
type Error struct {
	Kind  Kind
	Op    string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %s)", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error from a kind, operation and message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap attaches a kind and operation to an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid builds a BadRequest error pointing at a specific input field.
func Invalid(op, field, msg string) *Error {
	return &Error{Kind: BadRequest, Op: op, Field: field, Err: errors.New(msg)}
}

// KindOf extracts the kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case UpstreamUnavailable, UpstreamMalformed:
		return http.StatusBadGateway
	case Canceled:
		// Client closed request; nginx convention.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

package nhk

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound    = errors.New("nhk: resource not found")
	ErrUnavailable = errors.New("nhk: host unreachable or transport failure")
	ErrUpstream    = errors.New("nhk: upstream internal error (5xx)")
	ErrMalformed   = errors.New("nhk: invalid response format or malformed data")
)

// APIError wraps the sentinel errors with request context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Err       error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("nhk: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Sentinel }

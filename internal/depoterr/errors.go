// Package depoterr classifies the error kinds the data plane can raise
// (spec §7) so handlers translate them to HTTP status codes in one place
// instead of re-deriving the mapping at every call site.
package depoterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse classification of a failure.
type Kind int

const (
	// KindNotFound maps to 404: unknown chunk id.
	KindNotFound Kind = iota
	// KindUnavailable maps to 503: token not set / cache not initialised.
	KindUnavailable
	// KindInsufficientStorage maps to 507: too many files in one chunk.
	KindInsufficientStorage
	// KindInternal maps to 500: upstream, backend, filesystem, serialization failures.
	KindInternal
)

// Error wraps an underlying cause with a Kind used to pick an HTTP status.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code a handler should write for this error.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindInsufficientStorage:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// NotFound builds a KindNotFound error.
func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

// Unavailable builds a KindUnavailable error.
func Unavailable(msg string) error { return &Error{Kind: KindUnavailable, Msg: msg} }

// InsufficientStorage builds a KindInsufficientStorage error.
func InsufficientStorage(msg string) error { return &Error{Kind: KindInsufficientStorage, Msg: msg} }

// Internal wraps cause as a KindInternal error.
func Internal(msg string, cause error) error {
	return &Error{Kind: KindInternal, Msg: msg, Cause: cause}
}

// HTTPStatus extracts the HTTP status for any error, defaulting to 500 for
// errors that were never classified.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// TransportError signals a Drop socket read/write failure (spec §7).
// The receive loop treats it as a trigger for reconnect.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// RemoteError signals the Drop peer answered with ERROR/RPC_ERROR.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

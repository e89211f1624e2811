package syncerr

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotYetPresent marks a resource that does not exist yet.
	ErrNotYetPresent = errors.New("resource not yet present")

	// ErrResourceGone marks a resource that was permanently removed.
	ErrResourceGone = errors.New("resource permanently gone")
)

// ConnectionError is a transient failure talking to a remote service.
type ConnectionError struct {
	// Service is the logical service name (e.g. "horizon", "multisig").
	Service string

	// Op describes what was being done ("stream", "fetch account").
	Op string

	Err error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: connection error: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %s: connection error: %v", e.Service, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps err as a ConnectionError.
func NewConnectionError(service, op string, err error) error {
	return &ConnectionError{Service: service, Op: op, Err: err}
}

// UnexpectedError is a protocol or programming error.
type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error in %s: %v", e.Op, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// Unexpected wraps err as an UnexpectedError.
func Unexpected(op string, err error) error {
	return &UnexpectedError{Op: op, Err: err}
}

// Kind classifies an error for the retry policy.
type Kind uint8

const (
	// KindNone is returned for a nil error.
	KindNone Kind = iota

	// KindConnection is a transient failure.
	KindConnection

	// KindNotYetPresent means the resource does not exist yet.
	KindNotYetPresent

	// KindGone means the resource was removed.
	KindGone

	// KindCancelled means our own teardown interrupted the operation.
	KindCancelled

	// KindUnexpected is everything else.
	KindUnexpected
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindConnection:
		return "CONNECTION"
	case KindNotYetPresent:
		return "NOT_YET_PRESENT"
	case KindGone:
		return "GONE"
	case KindCancelled:
		return "CANCELLED"
	case KindUnexpected:
		return "UNEXPECTED"
	default:
		return "UNKNOWN"
	}
}

// Classify returns the Kind of err. Unknown errors are Unexpected.
func Classify(err error) Kind {
	var connErr *ConnectionError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrResourceGone):
		return KindGone
	case errors.Is(err, ErrNotYetPresent):
		return KindNotYetPresent
	case errors.As(err, &connErr):
		// Checked before cancellation: a client-side timeout wrapped by a
		// transport is a connection failure, not our own teardown.
		return KindConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindUnexpected
	}
}

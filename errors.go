// Package ioplex provides a cross-platform, event-driven I/O multiplexing
// core: a portable abstraction over epoll, kqueue, poll, select and IOCP
// exposed as a uniform Poller + Transport + Listener model.
package ioplex

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies an IOError.
type ErrorKind int

// Error kinds.
const (
	// ErrOutOfMemory denotes a failed allocation during internal bookkeeping,
	// such as growing an event buffer or extending the slot table.
	ErrOutOfMemory ErrorKind = iota
	// ErrPlatform wraps a raw OS error (errno on POSIX, GetLastError on Windows).
	ErrPlatform
	// ErrLogical denotes a caller-visible API misuse, such as attaching a
	// descriptor that has already been attached, or a descriptor that is
	// too large for the select backend.
	ErrLogical
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case ErrOutOfMemory:
		return "OutOfMemory"
	case ErrPlatform:
		return "Platform"
	case ErrLogical:
		return "Logical"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// IOError is the error type returned and delivered by every operation in
// this package. It always carries a Kind so that callers can branch on the
// category of failure without string matching.
type IOError struct {
	Kind    ErrorKind
	Code    int // platform error code, meaningful only when Kind == ErrPlatform
	message string
	cause   error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("ioplex: %s: %s", e.Kind, e.cause)
	}
	return fmt.Sprintf("ioplex: %s: %s", e.Kind, e.message)
}

// Unwrap allows errors.Is / errors.As to see through to the platform cause.
func (e *IOError) Unwrap() error {
	return e.cause
}

// NewOutOfMemory builds an ErrOutOfMemory IOError.
func NewOutOfMemory(context string) *IOError {
	return &IOError{Kind: ErrOutOfMemory, message: context}
}

// NewLogicalError builds an ErrLogical IOError.
func NewLogicalError(message string) *IOError {
	return &IOError{Kind: ErrLogical, message: message}
}

// NewPlatformError wraps a raw OS error with the operation that produced it,
// in the same style as github.com/pkg/errors.Wrap used throughout the
// retained poller backends.
func NewPlatformError(op string, code int, cause error) *IOError {
	return &IOError{
		Kind:  ErrPlatform,
		Code:  code,
		cause: errors.Wrap(cause, op),
	}
}

// IsLogical reports whether err is a Logical IOError.
func IsLogical(err error) bool {
	var ie *IOError
	if errors.As(err, &ie) {
		return ie.Kind == ErrLogical
	}
	return false
}

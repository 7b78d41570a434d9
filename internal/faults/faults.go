// Package faults defines the error taxonomy shared by the mail engine.
// Callers use the kind of a failure to decide between retrying later,
// falling back to the offline cache, and reporting upward.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindConnection is a session establishment or network failure.
	// Never retried internally; the caller decides.
	KindConnection Kind = iota
	// KindProtocol means the server rejected an operation.
	KindProtocol
	// KindParse is an isolated per-message parse failure.
	KindParse
	// KindStorage is a cache or attachment persistence failure.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindParse:
		return "parse"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified failure wrapping its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Connection wraps err as a connection failure for operation op.
func Connection(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

// Protocol wraps err as a server rejection for operation op.
func Protocol(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

// Parse wraps err as an isolated parse failure for operation op.
func Parse(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// Storage wraps err as a persistence failure for operation op.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// kindOf extracts the kind of err, or -1 if err carries no kind.
func kindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsConnection reports whether err is a connection failure.
func IsConnection(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConnection
}

// IsProtocol reports whether err is a server rejection.
func IsProtocol(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindProtocol
}

// IsParse reports whether err is a parse failure.
func IsParse(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindParse
}

// IsStorage reports whether err is a persistence failure.
func IsStorage(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindStorage
}

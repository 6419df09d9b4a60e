package snap

import (
	"errors"
	"fmt"
)

// ErrorKind partitions engine failures into the classes the drivers branch
// on. Retry decisions are made on the kind, never on error strings.
type ErrorKind int

const (
	// TransientIO covers network and timeout failures. Retryable.
	TransientIO ErrorKind = iota
	// Corruption covers checksum mismatches, broken chains and cyclic
	// parents. Never retried.
	Corruption
	// Unreachable covers a dependent service (database, container
	// runtime) that is not responding. Retried a bounded number of
	// times, then fatal.
	Unreachable
	// InvalidInput covers bad user input (unknown snapshot id, malformed
	// kind). Mapped to a distinct exit code for scripting callers.
	InvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case TransientIO:
		return "transient-io"
	case Corruption:
		return "corruption"
	case Unreachable:
		return "unreachable"
	case InvalidInput:
		return "invalid-input"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the typed outcome returned by engine components. SnapshotID is
// empty when the failure is not tied to a specific snapshot.
type Error struct {
	Kind       ErrorKind
	Op         string
	SnapshotID string
	Err        error
}

func (e *Error) Error() string {
	if e.SnapshotID != "" {
		return fmt.Sprintf("%s: snapshot %s: %s: %v", e.Kind, e.SnapshotID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with an engine error kind.
func NewError(kind ErrorKind, op string, snapshotID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SnapshotID: snapshotID, Err: err}
}

// KindOf extracts the ErrorKind from err. Errors produced outside the engine
// default to TransientIO so the retry layer gives them a bounded chance.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return TransientIO
}

// IsCorruption reports whether err carries the Corruption kind.
func IsCorruption(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Corruption
}

// IsInvalidInput reports whether err carries the InvalidInput kind.
func IsInvalidInput(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == InvalidInput
}

// Retryable reports whether an operation failing with err may be retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case TransientIO, Unreachable:
		return true
	case Corruption, InvalidInput:
		return false
	default:
		return false
	}
}

// Package verrors defines the closed error taxonomy shared by every layer
// of vgraph, from the storage adapters up through the query engine.
package verrors

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error classes a vgraph operation can
// fail with. Low layers never invent new kinds; callers switch on Kind,
// not on error strings.
type Kind int

const (
	// Unknown is the zero value and must never be returned deliberately.
	Unknown Kind = iota
	// NotFound marks an absent key, entity, or ref. Never fatal.
	NotFound
	// Conflict marks a CAS or create-only ref failure.
	Conflict
	// TransientIO marks a failure that retries with backoff; surfaced on
	// exhaustion.
	TransientIO
	// PermissionDenied marks an adapter-level authorization failure.
	PermissionDenied
	// QuotaExceeded marks an adapter-level quota failure.
	QuotaExceeded
	// Invalid marks malformed input: bad UUID, unknown noun/verb type,
	// zero-norm vector. Never retried.
	Invalid
	// CircuitOpen marks a backpressure admission rejection because the
	// class circuit is open.
	CircuitOpen
	// Overloaded marks a backpressure admission rejection because the
	// queue is full.
	Overloaded
	// Cancelled marks a cooperative cancellation.
	Cancelled
	// Fatal marks detected corruption: a vector without metadata in
	// strict mode, a COW hash mismatch. Aborts the operation.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case TransientIO:
		return "TransientIO"
	case PermissionDenied:
		return "PermissionDenied"
	case QuotaExceeded:
		return "QuotaExceeded"
	case Invalid:
		return "Invalid"
	case CircuitOpen:
		return "CircuitOpen"
	case Overloaded:
		return "Overloaded"
	case Cancelled:
		return "Cancelled"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with the operation and key that failed,
// and the Kind a caller should switch on. It is the only error type
// vgraph's exported functions return.
type Error struct {
	Op  string // e.g. "saveNoun", "hnsw.insert", "wal.execute"
	Key string // the affected key/id, when applicable
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("vgraph: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("vgraph: %s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, target) match when target is itself a *Error
// of the same Kind, and otherwise defers to the wrapped error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return errors.Is(e.Err, target)
}

// New constructs an Error. A nil err with kind Unknown yields nil; a nil
// err with any other kind gets the kind's name as its message
// (mirroring the teacher's wrapError idiom).
func New(op string, kind Kind, key string, err error) error {
	if err == nil && kind == Unknown {
		return nil
	}
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Op: op, Key: key, Kind: kind, Err: err}
}

// Wrap attaches op/kind context to err. Returns nil if err is nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// WrapKey is Wrap with an affected key attached.
func WrapKey(op string, kind Kind, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, returning Unknown if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether a failed operation should be retried per
// spec §7: only TransientIO triggers retries in the storage and WAL
// layers.
func Retryable(err error) bool {
	return KindOf(err) == TransientIO
}

package resource

import (
	"errors"
	"fmt"
)

// ErrNotFound matches any error reporting that a resource does not exist,
// including a record whose payload has gone missing.
var ErrNotFound = errors.New("resource not found")

// Kind classifies resource manager failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound means no record exists for the id.
	KindNotFound
	// KindAbsent means a record existed but its payload was missing. The
	// stale record has been purged.
	KindAbsent
	// KindInvalid means the request was malformed.
	KindInvalid
	// KindStorageFailure means a payload or ledger write, read or remove failed.
	KindStorageFailure
	// KindCorruptState means the ledger could not be read and was reinitialised.
	KindCorruptState
	// KindOptimizationFailure means an optimize run aborted mid-scan.
	KindOptimizationFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAbsent:
		return "absent"
	case KindInvalid:
		return "invalid"
	case KindStorageFailure:
		return "storage_failure"
	case KindCorruptState:
		return "corrupt_state"
	case KindOptimizationFailure:
		return "optimization_failure"
	default:
		return "unknown"
	}
}

// Error is returned by every Manager operation that fails.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := "resource " + e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports NotFound and Absent errors as ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && (e.Kind == KindNotFound || e.Kind == KindAbsent)
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func invalid(op, id, format string, args ...any) *Error {
	return newError(KindInvalid, op, id, fmt.Errorf(format, args...))
}

// outcome is the metrics label for an operation result.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}

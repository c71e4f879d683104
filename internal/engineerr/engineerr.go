// Package engineerr defines the typed error kinds the streaming
// k-anonymization engine can raise, per the three failure categories the
// engine distinguishes: a bad configuration value, an unparsable or
// out-of-range input tuple, and a violated internal invariant (a bug).
//
// Every Error carries a stack trace via github.com/pkg/errors so a
// diagnostic can point at the call site that raised it, not just the
// message.
package engineerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an engine error.
type Kind int

// Error kinds, per spec §7.
const (
	// ConfigInvalid marks a missing or malformed configuration parameter.
	// Fatal at startup.
	ConfigInvalid Kind = iota
	// InputInvalid marks a tuple that cannot be parsed, or whose QI index
	// is out of range. Fatal for that one input only.
	InputInvalid
	// InternalInvariant marks a condition the engine's own algorithm
	// guarantees cannot occur (overlap count > 2, a sentinel reaching
	// publication outside compromise mode). Indicates a bug.
	InternalInvariant
)

func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "ConfigInvalid"
	case InputInvalid:
		return "InputInvalid"
	case InternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error is an engine failure tagged with a Kind and wrapped with a stack
// trace at the point it was raised.
type Error struct {
	Kind    Kind
	Counter uint64 // arrival counter of the offending record, if applicable
	QI      int    // offending QI index, or -1 if not QI-specific
	cause   error
}

func (e *Error) Error() string {
	if e.QI >= 0 {
		return fmt.Sprintf("%s: counter=%d qi=%d: %v", e.Kind, e.Counter, e.QI, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New wraps msg as an Error of the given kind, attaching a stack trace.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, QI: -1, cause: errors.New(msg)}
}

// Newf is like New but with Printf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, QI: -1, cause: errors.Errorf(format, args...)}
}

// Wrap attaches kind and a stack trace to an existing error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, QI: -1, cause: errors.Wrap(err, msg)}
}

// WithInput annotates an Error with the offending record's counter and QI.
func (e *Error) WithInput(counter uint64, qi int) *Error {
	e.Counter = counter
	e.QI = qi
	return e
}

package pricing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	// InvalidParameter marks out-of-domain input: non-positive spot, strike
	// or volatility, negative time, unknown kind/style, bad lattice steps.
	InvalidParameter ErrorKind = iota + 1
	// NumericalFailure marks a solver that could not produce a root.
	NumericalFailure
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidParameter:
		return "InvalidParameter"
	case NumericalFailure:
		return "NumericalFailure"
	default:
		return "Unknown"
	}
}

// Error is the engine's error type. Two errors compare equal under
// errors.Is when their kinds match, so callers test against the
// ErrInvalidParameter / ErrNumericalFailure sentinels.
type Error struct {
	Kind    ErrorKind
	Field   string // offending input, empty when not tied to one field
	Message string
	Cause   error
}

var (
	ErrInvalidParameter = &Error{Kind: InvalidParameter, Message: "invalid parameter"}
	ErrNumericalFailure = &Error{Kind: NumericalFailure, Message: "numerical failure"}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on kind only.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func invalidf(field, format string, args ...any) error {
	return &Error{Kind: InvalidParameter, Field: field, Message: fmt.Sprintf(format, args...)}
}

func wrapInvalid(cause error, format string, args ...any) error {
	return &Error{Kind: InvalidParameter, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewNumericalFailure builds a NumericalFailure error for layers that need
// to turn a non-converged solve into an error value.
func NewNumericalFailure(message string) error {
	return &Error{Kind: NumericalFailure, Message: message}
}

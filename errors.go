package callback

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRegistration is returned when a handler is registered for a
	// kind and key that already has one, and nothing (such as a distinct rule)
	// tells the two apart. Treat it as fatal at startup.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrNotFound is returned when no handler is registered for the kind and
	// key of an inbound call. Transports report it as "unimplemented".
	ErrNotFound = errors.New("no handler registered")

	// ErrInvalidRule is returned when a topic rule does not compile to a
	// boolean expression.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidJSON is returned when the input is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
)

// HandlerError reports a failure raised by a registered handler, including a
// recovered panic.
type HandlerError struct {
	Kind Kind
	Key  string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler %q: %v", e.Kind, e.Key, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ParseError reports a malformed inbound payload. It is raised before the
// handler runs, or by the typed helpers when a payload does not decode or
// validate. Callers receive a client error.
type ParseError struct {
	Kind Kind
	Key  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("parse %s payload: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("parse %s payload for %q: %v", e.Kind, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// panicError carries a value recovered from a panicking handler.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

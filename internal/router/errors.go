package router

import (
	"errors"
	"fmt"
)

// Registration errors.
var (
	ErrEmptyMethod     = errors.New("empty method name")
	ErrDuplicateMethod = errors.New("duplicate method")
	ErrNilHandler      = errors.New("nil handler")
	ErrAlreadyBuilt    = errors.New("router already built")
)

// ProtocolMismatchError reports an inbound request or notification for a
// method nobody registered.
type ProtocolMismatchError struct {
	Method string
	Kind   string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: no handler for %s %q", e.Kind, e.Method)
}

// RegistrationError describes a rejected registration.
type RegistrationError struct {
	Method string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %q: %v", e.Method, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a handler panic.
type PanicError struct {
	Method string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %q panicked: %v", e.Method, e.Value)
}

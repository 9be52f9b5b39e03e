package bridge

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNotStarted indicates an operation that needs a started session.
	ErrNotStarted = errors.New("session not started")

	// ErrDisconnected indicates the engine connection is gone. Input is
	// rejected from then on.
	ErrDisconnected = errors.New("engine disconnected")

	// ErrIgnoredKey indicates a token listed in input.ignore_keys.
	ErrIgnoredKey = errors.New("key ignored")
)

// HandshakeError reports the startup step that failed.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

package rpc

import (
	"errors"
	"fmt"
)

// Standard errors returned by the transport.
var (
	// ErrShutdown indicates the transport has been closed.
	ErrShutdown = errors.New("rpc transport shut down")

	// ErrAlreadyResponded indicates a responder was invoked more than once.
	ErrAlreadyResponded = errors.New("request already answered")

	// ErrMalformedMessage indicates an inbound message did not match the
	// msgpack-rpc envelope.
	ErrMalformedMessage = errors.New("malformed rpc message")
)

// ConnectionError reports that the engine is unreachable or the connection
// terminated. It is fatal to the session.
type ConnectionError struct {
	Op     string // "spawn", "dial", "read", "write"
	Target string
	Err    error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("engine connection %s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("engine connection %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies a failed call.
type ErrorKind int

const (
	// KindUnreachable means the request could not be delivered or the
	// connection went away before the response arrived.
	KindUnreachable ErrorKind = iota
	// KindMalformed means the response could not be decoded.
	KindMalformed
	// KindRemote means the engine answered with an error value.
	KindRemote
	// KindTimeout means no response arrived before the deadline.
	KindTimeout
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindMalformed:
		return "malformed-response"
	case KindRemote:
		return "remote-error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// RPCError represents the failure of a single call. It never terminates the
// session on its own.
type RPCError struct {
	Kind    ErrorKind
	Method  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("rpc %s %s: %s", e.Method, e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *RPCError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an RPCError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var rerr *RPCError
	return errors.As(err, &rerr) && rerr.Kind == kind
}

// remoteMessage extracts a readable message from an engine error value.
// Neovim sends errors as [type, message].
func remoteMessage(v any) string {
	if arr, ok := AsSlice(v); ok && len(arr) == 2 {
		if msg, ok := AsString(arr[1]); ok {
			return msg
		}
	}
	if msg, ok := AsString(v); ok {
		return msg
	}
	return fmt.Sprint(v)
}

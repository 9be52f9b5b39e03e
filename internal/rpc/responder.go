package rpc

import (
	"context"
	"sync/atomic"

	"pkt.systems/pslog"
)

// Responder answers one inbound request. The first call to Return or Fail
// sends the response; later calls are rejected with ErrAlreadyResponded.
type Responder struct {
	id     uint64
	method string
	send   func(errVal, result any) error
	logger pslog.Logger
	done   atomic.Bool
}

// NewResponder returns a responder whose answer is handed to send. The
// transport builds its own responders; this constructor exists for handlers
// exercised without a live engine.
func NewResponder(method string, send func(errVal, result any) error) *Responder {
	return &Responder{
		method: method,
		send:   send,
		logger: pslog.Ctx(context.Background()),
	}
}

// Method returns the method of the request being answered.
func (r *Responder) Method() string {
	return r.method
}

// Answered reports whether the request has been answered.
func (r *Responder) Answered() bool {
	return r.done.Load()
}

// Return answers the request with a result value.
func (r *Responder) Return(result any) error {
	return r.respond(nil, result)
}

// Fail answers the request with an error value the engine can display.
func (r *Responder) Fail(err error) error {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	// Neovim error objects are [type, message]; 0 is an exception.
	return r.respond([]any{0, msg}, nil)
}

func (r *Responder) respond(errVal, result any) error {
	if r.done.Swap(true) {
		if r.logger != nil {
			r.logger.Warn("duplicate response suppressed", "method", r.method, "id", r.id)
		}
		return ErrAlreadyResponded
	}
	if r.send == nil {
		return ErrShutdown
	}
	return r.send(errVal, result)
}

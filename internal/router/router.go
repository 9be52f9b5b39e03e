// Package router maps inbound engine requests and notifications to
// handlers. The method table is assembled once with a Builder and is
// immutable afterwards.
package router

import (
	"context"
	"errors"
	"sort"
	"sync"

	"pkt.systems/pslog"

	"github.com/dshills/nvbridge/internal/rpc"
)

// HandlerFunc answers an inbound request. The returned value or error is
// sent back to the engine once the function returns.
type HandlerFunc func(ctx context.Context, args []any) (any, error)

// NotificationFunc handles an inbound notification. It runs on the
// dispatching goroutine and must not block.
type NotificationFunc func(ctx context.Context, args []any)

// Builder collects registrations. It is not safe for concurrent use.
type Builder struct {
	requests      map[string]HandlerFunc
	notifications map[string]NotificationFunc
	errs          []error
	built         bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		requests:      make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationFunc),
	}
}

// Handle registers the handler of a request method.
func (b *Builder) Handle(method string, h HandlerFunc) *Builder {
	if err := b.check(method, h == nil); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.requests[method] = h
	return b
}

// HandleNotification registers the handler of a notification method.
func (b *Builder) HandleNotification(method string, h NotificationFunc) *Builder {
	if err := b.check(method, h == nil); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.notifications[method] = h
	return b
}

func (b *Builder) check(method string, nilHandler bool) error {
	switch {
	case b.built:
		return &RegistrationError{Method: method, Err: ErrAlreadyBuilt}
	case method == "":
		return &RegistrationError{Method: method, Err: ErrEmptyMethod}
	case nilHandler:
		return &RegistrationError{Method: method, Err: ErrNilHandler}
	}
	_, req := b.requests[method]
	_, note := b.notifications[method]
	if req || note {
		return &RegistrationError{Method: method, Err: ErrDuplicateMethod}
	}
	return nil
}

// Build validates the registrations and returns the router. Every rejected
// registration is reported.
func (b *Builder) Build(logger pslog.Logger) (*Router, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.built {
		return nil, ErrAlreadyBuilt
	}
	b.built = true
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Router{
		requests:      b.requests,
		notifications: b.notifications,
		logger:        logger,
	}, nil
}

// Router dispatches inbound messages.
type Router struct {
	requests      map[string]HandlerFunc
	notifications map[string]NotificationFunc
	logger        pslog.Logger
	inflight      sync.WaitGroup
}

// Methods returns the registered method names, sorted.
func (r *Router) Methods() []string {
	names := make([]string, 0, len(r.requests)+len(r.notifications))
	for name := range r.requests {
		names = append(names, name)
	}
	for name := range r.notifications {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if a handler is registered for method.
func (r *Router) Has(method string) bool {
	_, req := r.requests[method]
	_, note := r.notifications[method]
	return req || note
}

// Dispatch routes msg. Requests run on their own goroutine so the caller's
// inbound loop is never blocked by a handler; notifications run inline.
//
// A message for an unregistered method returns a *ProtocolMismatchError.
// The request is left unanswered.
func (r *Router) Dispatch(ctx context.Context, msg rpc.Message) error {
	switch msg.Kind {
	case rpc.KindRequest:
		h, ok := r.requests[msg.Method]
		if !ok {
			err := &ProtocolMismatchError{Method: msg.Method, Kind: "request"}
			r.logger.Warn("unhandled request", "method", msg.Method, "err", err)
			return err
		}
		r.inflight.Add(1)
		go r.serve(ctx, msg, h)
		return nil

	case rpc.KindNotification:
		h, ok := r.notifications[msg.Method]
		if !ok {
			err := &ProtocolMismatchError{Method: msg.Method, Kind: "notification"}
			r.logger.Debug("unhandled notification", "method", msg.Method)
			return err
		}
		r.notify(ctx, msg, h)
		return nil
	}
	return nil
}

// Wait blocks until every dispatched request handler has returned.
func (r *Router) Wait() {
	r.inflight.Wait()
}

func (r *Router) serve(ctx context.Context, msg rpc.Message, h HandlerFunc) {
	defer r.inflight.Done()
	log := r.logger.With("method", msg.Method)

	result, err := r.invoke(ctx, msg, h)
	if msg.Responder == nil {
		return
	}
	if err != nil {
		log.With("err", err).Warn("request failed")
		if ferr := msg.Responder.Fail(err); ferr != nil {
			log.With("err", ferr).Warn("failed to answer request")
		}
		return
	}
	if rerr := msg.Responder.Return(result); rerr != nil {
		log.With("err", rerr).Warn("failed to answer request")
	}
}

func (r *Router) invoke(ctx context.Context, msg rpc.Message, h HandlerFunc) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Method: msg.Method, Value: v}
			r.logger.Error("request handler panicked", "method", msg.Method, "panic", v)
		}
	}()
	return h(ctx, msg.Args)
}

func (r *Router) notify(ctx context.Context, msg rpc.Message, h NotificationFunc) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("notification handler panicked", "method", msg.Method, "panic", v)
		}
	}()
	h(ctx, msg.Args)
}

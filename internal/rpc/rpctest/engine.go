// Package rpctest provides an in-process fake engine that speaks the
// msgpack-rpc protocol, for testing code built on package rpc.
package rpctest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/neovim/go-client/msgpack"

	"github.com/dshills/nvbridge/internal/rpc"
)

// HandlerFunc answers a request sent by the client. A non-nil error is
// returned to the client as a remote error.
type HandlerFunc func(args []any) (any, error)

// Call records one request or notification received from the client.
type Call struct {
	Method string
	Args   []any
	Notify bool
}

// Engine is a fake engine peer connected to a client through in-memory pipes.
type Engine struct {
	toClient   *io.PipeWriter
	fromClient *io.PipeReader

	clientReader *io.PipeReader
	clientWriter *io.PipeWriter

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
	pending  map[uint64]chan reply
	nextID   atomic.Uint64

	work chan inboundRequest
	done chan struct{}
	once sync.Once
}

type reply struct {
	errVal any
	result any
}

type inboundRequest struct {
	id     uint64
	method string
	args   []any
}

// New creates a fake engine and starts serving.
func New() *Engine {
	clientReader, toClient := io.Pipe()
	fromClient, clientWriter := io.Pipe()

	e := &Engine{
		toClient:     toClient,
		fromClient:   fromClient,
		clientReader: clientReader,
		clientWriter: clientWriter,
		handlers:     make(map[string]HandlerFunc),
		pending:      make(map[uint64]chan reply),
		work:         make(chan inboundRequest, 256),
		done:         make(chan struct{}),
	}
	go e.readLoop()
	go e.serveLoop()
	return e
}

// Transport returns a started client transport connected to the engine.
func (e *Engine) Transport(opts ...rpc.Option) *rpc.Transport {
	t := rpc.NewTransport(e.clientReader, e.clientWriter, closerFunc(func() error {
		e.clientWriter.Close()
		return e.clientReader.Close()
	}), opts...)
	t.Start()
	return t
}

// Handle registers the answer for a client request.
func (e *Engine) Handle(method string, fn HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = fn
}

// Returns registers a handler that always returns result.
func (e *Engine) Returns(method string, result any) {
	e.Handle(method, func([]any) (any, error) { return result, nil })
}

// Calls returns every message received from the client, in order.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Methods returns the method names received from the client, in order.
func (e *Engine) Methods() []string {
	calls := e.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// CallsTo returns the recorded calls of one method.
func (e *Engine) CallsTo(method string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Notify sends a notification to the client.
func (e *Engine) Notify(method string, args ...any) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.PackArrayLen(3); err != nil {
		return err
	}
	if err := enc.PackInt(rpc.TypeNotification); err != nil {
		return err
	}
	if err := enc.PackString(method); err != nil {
		return err
	}
	if err := packArgs(enc, args); err != nil {
		return err
	}
	return e.write(buf.Bytes())
}

// Redraw sends one redraw notification built from event tuples such as
// []any{"grid_line", []any{1, 0, 0, []any{[]any{"h"}}}}.
func (e *Engine) Redraw(events ...[]any) error {
	args := make([]any, len(events))
	for i, ev := range events {
		args[i] = ev
	}
	return e.Notify("redraw", args...)
}

// Request sends a request to the client and waits for the answer. errVal is
// the error value the client responded with, if any.
func (e *Engine) Request(ctx context.Context, method string, args ...any) (result any, errVal any, err error) {
	id := e.nextID.Add(1)
	ch := make(chan reply, 1)
	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.PackArrayLen(4); err != nil {
		return nil, nil, err
	}
	if err := enc.PackInt(rpc.TypeRequest); err != nil {
		return nil, nil, err
	}
	if err := enc.PackUint(id); err != nil {
		return nil, nil, err
	}
	if err := enc.PackString(method); err != nil {
		return nil, nil, err
	}
	if err := packArgs(enc, args); err != nil {
		return nil, nil, err
	}
	if err := e.write(buf.Bytes()); err != nil {
		return nil, nil, err
	}

	select {
	case r := <-ch:
		return r.result, r.errVal, nil
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, nil, ctx.Err()
	case <-e.done:
		return nil, nil, errors.New("engine closed")
	}
}

// Close disconnects the engine from the client.
func (e *Engine) Close() {
	e.once.Do(func() {
		close(e.done)
		e.toClient.Close()
		e.fromClient.Close()
	})
}

func (e *Engine) write(data []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := e.toClient.Write(data)
	return err
}

func (e *Engine) readLoop() {
	dec := msgpack.NewDecoder(e.fromClient)
	for {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			e.Close()
			return
		}
		arr, ok := rpc.AsSlice(raw)
		if !ok || len(arr) < 3 {
			continue
		}
		typ, _ := rpc.AsInt(arr[0])
		switch typ {
		case rpc.TypeRequest:
			id, _ := rpc.AsInt(arr[1])
			method, _ := rpc.AsString(arr[2])
			args, _ := rpc.AsSlice(arr[3])
			e.record(Call{Method: method, Args: args})
			select {
			case e.work <- inboundRequest{id: uint64(id), method: method, args: args}:
			case <-e.done:
				return
			}
		case rpc.TypeNotification:
			method, _ := rpc.AsString(arr[1])
			args, _ := rpc.AsSlice(arr[2])
			e.record(Call{Method: method, Args: args, Notify: true})
		case rpc.TypeResponse:
			id, _ := rpc.AsInt(arr[1])
			e.mu.Lock()
			ch, ok := e.pending[uint64(id)]
			delete(e.pending, uint64(id))
			e.mu.Unlock()
			if ok {
				ch <- reply{errVal: arr[2], result: arr[3]}
			}
		}
	}
}

// serveLoop answers client requests one at a time, in arrival order, the
// way the real engine does.
func (e *Engine) serveLoop() {
	for {
		select {
		case <-e.done:
			return
		case req := <-e.work:
			e.mu.Lock()
			fn := e.handlers[req.method]
			e.mu.Unlock()

			var result, errVal any
			if fn == nil {
				result = nil
			} else if r, err := fn(req.args); err != nil {
				errVal = []any{0, err.Error()}
			} else {
				result = r
			}
			if err := e.respond(req.id, errVal, result); err != nil {
				return
			}
		}
	}
}

func (e *Engine) respond(id uint64, errVal, result any) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.PackArrayLen(4); err != nil {
		return err
	}
	if err := enc.PackInt(rpc.TypeResponse); err != nil {
		return err
	}
	if err := enc.PackUint(id); err != nil {
		return err
	}
	if err := packValue(enc, errVal); err != nil {
		return err
	}
	if err := packValue(enc, result); err != nil {
		return err
	}
	return e.write(buf.Bytes())
}

func (e *Engine) record(c Call) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()
}

func packArgs(enc *msgpack.Encoder, args []any) error {
	if err := enc.PackArrayLen(int64(len(args))); err != nil {
		return err
	}
	for _, a := range args {
		if err := packValue(enc, a); err != nil {
			return fmt.Errorf("pack arg: %w", err)
		}
	}
	return nil
}

func packValue(enc *msgpack.Encoder, v any) error {
	if v == nil {
		return enc.PackNil()
	}
	return enc.Encode(v)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neovim/go-client/msgpack"
	"pkt.systems/pslog"
)

// DefaultCallTimeout bounds a call when neither the context nor the
// transport options set a deadline.
const DefaultCallTimeout = 10 * time.Second

// Transport handles msgpack-rpc communication with the engine over a single
// byte stream.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	target string

	logger      pslog.Logger
	callTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  atomic.Uint64
	pending map[uint64]chan *response

	inbound chan Message

	closed  atomic.Bool
	done    chan struct{}
	errOnce sync.Once
	err     error
	started atomic.Bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger pslog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithCallTimeout sets the default deadline for calls whose context has none.
// Zero disables the default deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d >= 0 {
			t.callTimeout = d
		}
	}
}

// WithInboundBuffer sets the capacity of the inbound message stream.
func WithInboundBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.inbound = make(chan Message, n)
		}
	}
}

// WithTarget labels the transport for diagnostics.
func WithTarget(target string) Option {
	return func(t *Transport) {
		t.target = target
	}
}

// NewTransport creates a transport over the given stream. Start must be
// called before calls can complete.
func NewTransport(r io.Reader, w io.Writer, c io.Closer, opts ...Option) *Transport {
	t := &Transport{
		reader:      bufio.NewReaderSize(r, 64*1024),
		writer:      w,
		closer:      c,
		logger:      pslog.Ctx(context.Background()),
		callTimeout: DefaultCallTimeout,
		pending:     make(map[uint64]chan *response),
		inbound:     make(chan Message, 1024),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins reading messages from the connection.
func (t *Transport) Start() {
	if t.started.Swap(true) {
		return
	}
	go t.readLoop()
}

// Inbound returns the ordered stream of notifications and requests sent by
// the engine. It is closed when the connection terminates.
func (t *Transport) Inbound() <-chan Message {
	return t.inbound
}

// Done is closed when the connection terminates for any reason.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the reason the connection terminated, or nil while it is live.
func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Close closes the transport and releases resources. Pending calls fail
// with a ConnectionError wrapping ErrShutdown.
func (t *Transport) Close() error {
	t.fail(&ConnectionError{Op: "close", Target: t.target, Err: ErrShutdown})
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// fail records the terminal error once and wakes every waiter.
func (t *Transport) fail(err error) {
	t.errOnce.Do(func() {
		t.err = err
		t.closed.Store(true)
		close(t.done)

		// Waiters select on t.done; the channels are left open so a late
		// response cannot panic on a closed channel.
		t.mu.Lock()
		t.pending = make(map[uint64]chan *response)
		t.mu.Unlock()
	})
}

// Call sends a request and waits for its response. The decoded result is
// stored in result, which may be nil.
func (t *Transport) Call(ctx context.Context, method string, result any, args ...any) error {
	if t.closed.Load() {
		return &RPCError{Kind: KindUnreachable, Method: method, Err: t.terminalErr()}
	}

	if _, ok := ctx.Deadline(); !ok && t.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
		defer cancel()
	}

	id := t.nextID.Add(1)
	ch := make(chan *response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	data, err := encodeRequest(id, method, normalizeArgs(args))
	if err != nil {
		return &RPCError{Kind: KindUnreachable, Method: method, Err: fmt.Errorf("encode request: %w", err)}
	}
	if err := t.write(data); err != nil {
		return &RPCError{Kind: KindUnreachable, Method: method, Err: err}
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &RPCError{Kind: KindTimeout, Method: method, Err: ctx.Err()}
		}
		return ctx.Err()
	case <-t.done:
		return &RPCError{Kind: KindUnreachable, Method: method, Err: t.terminalErr()}
	case resp := <-ch:
		if resp.Error != nil {
			return &RPCError{Kind: KindRemote, Method: method, Message: remoteMessage(resp.Error)}
		}
		if err := assign(result, resp.Result); err != nil {
			return &RPCError{Kind: KindMalformed, Method: method, Err: fmt.Errorf("decode result: %w", err)}
		}
		return nil
	}
}

// Notify sends a notification. Delivery is best-effort: failures are logged
// and returned but callers are free to ignore them.
func (t *Transport) Notify(method string, args ...any) error {
	if t.closed.Load() {
		return t.terminalErr()
	}
	data, err := encodeNotification(method, normalizeArgs(args))
	if err != nil {
		t.logger.Warn("notification encode failed", "method", method, "err", err)
		return err
	}
	if err := t.write(data); err != nil {
		t.logger.Warn("notification send failed", "method", method, "err", err)
		return err
	}
	return nil
}

// sendResponse writes the answer to an inbound request.
func (t *Transport) sendResponse(id uint64, errVal, result any) error {
	if t.closed.Load() {
		return t.terminalErr()
	}
	data, err := encodeResponse(id, errVal, result)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return t.write(data)
}

func (t *Transport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		cerr := &ConnectionError{Op: "write", Target: t.target, Err: err}
		t.fail(cerr)
		return cerr
	}
	return nil
}

func (t *Transport) terminalErr() error {
	if err := t.Err(); err != nil {
		return err
	}
	return ErrShutdown
}

// readLoop reads messages until the stream ends. It is the only writer to
// the inbound channel and closes it on exit.
func (t *Transport) readLoop() {
	defer close(t.inbound)

	dec := msgpack.NewDecoder(t.reader)
	for {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			if t.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				t.fail(&ConnectionError{Op: "read", Target: t.target, Err: io.EOF})
				return
			}
			// A decode error leaves the stream position undefined.
			t.logger.Error("engine stream corrupt", "err", err)
			t.fail(&ConnectionError{Op: "read", Target: t.target, Err: err})
			return
		}

		msg, resp, err := parseEnvelope(raw)
		if err != nil {
			t.logger.Warn("dropping malformed message", "err", err)
			continue
		}
		if resp != nil {
			t.handleResponse(resp)
			continue
		}
		if msg.Responder != nil {
			id := msg.Responder.id
			msg.Responder.logger = t.logger
			msg.Responder.send = func(errVal, result any) error {
				return t.sendResponse(id, errVal, result)
			}
		}

		select {
		case t.inbound <- *msg:
		case <-t.done:
			return
		}
	}
}

// handleResponse routes a response to its waiting caller.
func (t *Transport) handleResponse(resp *response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("response for unknown request", "id", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

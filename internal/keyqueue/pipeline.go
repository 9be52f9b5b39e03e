// Package keyqueue serializes key forwarding. Tasks run one at a time on a
// single worker in the order they were enqueued; a task is never retried.
package keyqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

// Pipeline errors.
var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("key pipeline closed")

	// ErrTimeout wraps the error of a task that exceeded its deadline.
	ErrTimeout = errors.New("key task timed out")
)

// Task forwards one key event. It must honor ctx.
type Task func(ctx context.Context) error

// Ticket reports the outcome of one enqueued task.
type Ticket struct {
	seq  uint64
	done chan struct{}
	err  error
}

// Seq returns the task's position in the pipeline, starting at 1.
func (t *Ticket) Seq() uint64 {
	return t.seq
}

// Done is closed when the task has finished or was discarded.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its error.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticket) finish(err error) {
	t.err = err
	close(t.done)
}

type item struct {
	task   Task
	ticket *Ticket
}

// Stats holds pipeline counters.
type Stats struct {
	Enqueued  uint64
	Succeeded uint64
	Failed    uint64
	TimedOut  uint64
	Discarded uint64
}

// Pipeline is a FIFO of key tasks with a single worker.
type Pipeline struct {
	timeout time.Duration
	logger  pslog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []item
	closed   bool
	closeErr error
	seq      uint64

	wg sync.WaitGroup

	enqueued  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	discarded atomic.Uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTaskTimeout bounds each task. Zero means no per-task deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger pslog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline and starts its worker.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		timeout: 5 * time.Second,
		logger:  pslog.Ctx(context.Background()),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go p.worker()
	return p
}

// Enqueue appends a task. It never blocks on the task itself.
func (p *Pipeline) Enqueue(task Task) (*Ticket, error) {
	if task == nil {
		return nil, errors.New("nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	p.seq++
	t := &Ticket{seq: p.seq, done: make(chan struct{})}
	p.queue = append(p.queue, item{task: task, ticket: t})
	p.enqueued.Add(1)
	p.cond.Signal()
	return t, nil
}

// Len returns the number of tasks waiting to run.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the pipeline. Tasks not yet started fail with err (ErrClosed
// when err is nil) and the running task's context is cancelled. Close is
// idempotent; only the first err is kept.
func (p *Pipeline) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.closeErr = err
	pending := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	for _, it := range pending {
		p.discarded.Add(1)
		it.ticket.finish(err)
	}
}

// Wait blocks until the worker has exited after Close.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Err returns the error the pipeline was closed with, or nil.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued:  p.enqueued.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		TimedOut:  p.timedOut.Load(),
		Discarded: p.discarded.Load(),
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		it := p.queue[0]
		p.queue[0] = item{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		it.ticket.finish(p.run(it))
	}
}

func (p *Pipeline) run(it item) (err error) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("key task panicked", "seq", it.ticket.seq, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("key task panicked: %v", r)
		}
		switch {
		case err == nil:
			p.succeeded.Add(1)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			p.timedOut.Add(1)
			p.logger.Warn("key task timed out", "seq", it.ticket.seq, "err", err)
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		default:
			p.failed.Add(1)
			p.logger.Debug("key task failed", "seq", it.ticket.seq, "err", err)
		}
	}()

	return it.task(ctx)
}

package keyqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitTicket(t *testing.T, tk *Ticket) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := tk.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		t.Fatalf("ticket %d never finished", tk.Seq())
	}
	return err
}

func TestPipeline_OrderAndSingleFlight(t *testing.T) {
	p := New()
	defer p.Close(nil)

	var (
		mu       sync.Mutex
		order    []int
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)

	var tickets []*Ticket
	for i := 0; i < 20; i++ {
		i := i
		tk, err := p.Enqueue(func(ctx context.Context) error {
			n := inFlight.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			inFlight.Add(-1)
			return nil
		})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		tickets = append(tickets, tk)
	}

	for _, tk := range tickets {
		if err := waitTicket(t, tk); err != nil {
			t.Fatalf("task %d error = %v", tk.Seq(), err)
		}
	}

	if maxSeen.Load() != 1 {
		t.Errorf("expected at most one task in flight, saw %d", maxSeen.Load())
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestPipeline_TimeoutFailsOnlyThatTask(t *testing.T) {
	p := New(WithTaskTimeout(30 * time.Millisecond))
	defer p.Close(nil)

	slow, _ := p.Enqueue(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var ran atomic.Bool
	next, _ := p.Enqueue(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := waitTicket(t, slow); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if err := waitTicket(t, next); err != nil {
		t.Errorf("expected next task to succeed, got %v", err)
	}
	if !ran.Load() {
		t.Error("expected next task to run")
	}
	if s := p.Stats(); s.TimedOut != 1 || s.Succeeded != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestPipeline_TaskErrorDoesNotStopQueue(t *testing.T) {
	p := New()
	defer p.Close(nil)

	boom := errors.New("boom")
	first, _ := p.Enqueue(func(context.Context) error { return boom })
	second, _ := p.Enqueue(func(context.Context) error { return nil })

	if err := waitTicket(t, first); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if err := waitTicket(t, second); err != nil {
		t.Errorf("expected success, got %v", err)
	}
}

func TestPipeline_PanicRecovered(t *testing.T) {
	p := New()
	defer p.Close(nil)

	bad, _ := p.Enqueue(func(context.Context) error { panic("oops") })
	good, _ := p.Enqueue(func(context.Context) error { return nil })

	if err := waitTicket(t, bad); err == nil {
		t.Error("expected error from panicking task")
	}
	if err := waitTicket(t, good); err != nil {
		t.Errorf("expected pipeline to continue after panic, got %v", err)
	}
}

func TestPipeline_CloseFailsQueuedTasks(t *testing.T) {
	p := New(WithTaskTimeout(0))

	started := make(chan struct{})
	running, _ := p.Enqueue(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	var ran atomic.Int32
	queued := make([]*Ticket, 0, 3)
	for i := 0; i < 3; i++ {
		tk, err := p.Enqueue(func(context.Context) error {
			ran.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		queued = append(queued, tk)
	}

	disconnected := errors.New("engine gone")
	p.Close(disconnected)

	for _, tk := range queued {
		if err := waitTicket(t, tk); !errors.Is(err, disconnected) {
			t.Errorf("expected queued task to fail with close error, got %v", err)
		}
	}
	if err := waitTicket(t, running); err == nil {
		t.Error("expected running task to be cancelled")
	}
	p.Wait()

	if ran.Load() != 0 {
		t.Errorf("expected queued tasks never to run, %d ran", ran.Load())
	}
	if _, err := p.Enqueue(func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if !errors.Is(p.Err(), disconnected) {
		t.Errorf("expected Err to report close error, got %v", p.Err())
	}
}

package rpc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/nvbridge/internal/rpc"
	"github.com/dshills/nvbridge/internal/rpc/rpctest"
)

func TestTransport_Call(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()
	engine.Handle("nvim_eval", func(args []any) (any, error) {
		expr, _ := rpc.AsString(args[0])
		if expr != "1+1" {
			return nil, errors.New("unexpected expression")
		}
		return 2, nil
	})

	transport := engine.Transport()
	defer transport.Close()

	var result int
	if err := transport.Call(context.Background(), "nvim_eval", &result, "1+1"); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != 2 {
		t.Errorf("expected result 2, got %d", result)
	}
}

func TestTransport_CallAnyResult(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()
	engine.Returns("nvim_get_mode", map[string]any{"mode": "i", "blocking": false})

	transport := engine.Transport()
	defer transport.Close()

	var raw any
	if err := transport.Call(context.Background(), "nvim_get_mode", &raw); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	m, ok := rpc.AsMap(raw)
	if !ok {
		t.Fatalf("expected map result, got %T", raw)
	}
	if mode, _ := rpc.AsString(m["mode"]); mode != "i" {
		t.Errorf("expected mode i, got %q", mode)
	}
}

func TestTransport_CallRemoteError(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()
	engine.Handle("nvim_command", func([]any) (any, error) {
		return nil, errors.New("E492: Not an editor command")
	})

	transport := engine.Transport()
	defer transport.Close()

	err := transport.Call(context.Background(), "nvim_command", nil, "bogus")
	if !rpc.IsKind(err, rpc.KindRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	var rerr *rpc.RPCError
	if !errors.As(err, &rerr) || rerr.Message != "E492: Not an editor command" {
		t.Errorf("expected engine message in error, got %v", err)
	}
}

func TestTransport_CallTimeout(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()
	block := make(chan struct{})
	defer close(block)
	engine.Handle("slow", func([]any) (any, error) {
		<-block
		return nil, nil
	})

	transport := engine.Transport(rpc.WithCallTimeout(50 * time.Millisecond))
	defer transport.Close()

	err := transport.Call(context.Background(), "slow", nil)
	if !rpc.IsKind(err, rpc.KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestTransport_CallMalformedResult(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()
	engine.Returns("nvim_get_current_line", "not a number")

	transport := engine.Transport()
	defer transport.Close()

	var n int
	err := transport.Call(context.Background(), "nvim_get_current_line", &n)
	if !rpc.IsKind(err, rpc.KindMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestTransport_Notify(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()
	engine.Returns("sync", nil)

	transport := engine.Transport()
	defer transport.Close()

	if err := transport.Notify("nvim_input", "i"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	// A call after the notification proves the notification was read first.
	if err := transport.Call(context.Background(), "sync", nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	calls := engine.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(calls))
	}
	if calls[0].Method != "nvim_input" || !calls[0].Notify {
		t.Errorf("expected nvim_input notification first, got %+v", calls[0])
	}
	if key, _ := rpc.AsString(calls[0].Args[0]); key != "i" {
		t.Errorf("expected key i, got %q", key)
	}
}

func TestTransport_InboundOrder(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()

	transport := engine.Transport()
	defer transport.Close()

	for _, m := range []string{"first", "second", "third"} {
		if err := engine.Notify(m); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		select {
		case msg := <-transport.Inbound():
			if msg.Method != want {
				t.Errorf("expected %s, got %s", want, msg.Method)
			}
			if msg.Kind != rpc.KindNotification {
				t.Errorf("expected notification, got %s", msg.Kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestTransport_RequestAnsweredOnce(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()

	transport := engine.Transport()
	defer transport.Close()

	type answer struct {
		result, errVal any
		err            error
	}
	answers := make(chan answer, 1)
	go func() {
		r, e, err := engine.Request(context.Background(), "writeBuf", "3", "/tmp/a", "a")
		answers <- answer{r, e, err}
	}()

	var msg rpc.Message
	select {
	case msg = <-transport.Inbound():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
	if msg.Kind != rpc.KindRequest || msg.Responder == nil {
		t.Fatalf("expected request with responder, got %+v", msg)
	}
	if len(msg.Args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(msg.Args))
	}

	if err := msg.Responder.Return("ok"); err != nil {
		t.Fatalf("Return() error = %v", err)
	}
	if err := msg.Responder.Fail(errors.New("late")); !errors.Is(err, rpc.ErrAlreadyResponded) {
		t.Errorf("expected ErrAlreadyResponded, got %v", err)
	}

	select {
	case a := <-answers:
		if a.err != nil {
			t.Fatalf("Request() error = %v", a.err)
		}
		if a.errVal != nil {
			t.Errorf("expected no error value, got %v", a.errVal)
		}
		if s, _ := rpc.AsString(a.result); s != "ok" {
			t.Errorf("expected result ok, got %v", a.result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for answer")
	}
}

func TestTransport_DisconnectFailsPending(t *testing.T) {
	engine := rpctest.New()
	block := make(chan struct{})
	defer close(block)
	engine.Handle("hang", func([]any) (any, error) {
		<-block
		return nil, nil
	})

	transport := engine.Transport(rpc.WithCallTimeout(0))
	defer transport.Close()

	errs := make(chan error, 1)
	go func() {
		errs <- transport.Call(context.Background(), "hang", nil)
	}()

	time.Sleep(20 * time.Millisecond)
	engine.Close()

	select {
	case err := <-errs:
		if !rpc.IsKind(err, rpc.KindUnreachable) {
			t.Errorf("expected unreachable error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail on disconnect")
	}

	select {
	case <-transport.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed on disconnect")
	}
	var cerr *rpc.ConnectionError
	if !errors.As(transport.Err(), &cerr) {
		t.Errorf("expected ConnectionError, got %v", transport.Err())
	}

	if _, ok := <-transport.Inbound(); ok {
		t.Error("expected inbound stream to be closed")
	}
}

func TestTransport_CallAfterClose(t *testing.T) {
	engine := rpctest.New()
	defer engine.Close()

	transport := engine.Transport()
	transport.Close()

	err := transport.Call(context.Background(), "nvim_eval", nil, "1")
	if !rpc.IsKind(err, rpc.KindUnreachable) {
		t.Errorf("expected unreachable error, got %v", err)
	}
	if !errors.Is(err, rpc.ErrShutdown) {
		t.Errorf("expected ErrShutdown cause, got %v", err)
	}
}

package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/nvbridge/internal/router"
	"github.com/dshills/nvbridge/internal/rpc"
)

type answer struct {
	errVal any
	result any
}

// recorder captures what a handler sent back through its responder.
type recorder struct {
	mu      sync.Mutex
	answers []answer
}

func (r *recorder) responder(method string) *rpc.Responder {
	return rpc.NewResponder(method, func(errVal, result any) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.answers = append(r.answers, answer{errVal: errVal, result: result})
		return nil
	})
}

func (r *recorder) all() []answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]answer(nil), r.answers...)
}

func request(method string, rec *recorder, args ...any) rpc.Message {
	return rpc.Message{Kind: rpc.KindRequest, Method: method, Args: args, Responder: rec.responder(method)}
}

func TestBuilder_RejectsDuplicateAndEmpty(t *testing.T) {
	noop := func(context.Context, []any) (any, error) { return nil, nil }

	_, err := router.NewBuilder().
		Handle("writeBuf", noop).
		Handle("writeBuf", noop).
		Build(nil)
	if !errors.Is(err, router.ErrDuplicateMethod) {
		t.Errorf("expected ErrDuplicateMethod, got %v", err)
	}

	_, err = router.NewBuilder().Handle("", noop).Build(nil)
	if !errors.Is(err, router.ErrEmptyMethod) {
		t.Errorf("expected ErrEmptyMethod, got %v", err)
	}

	_, err = router.NewBuilder().
		Handle("redraw", noop).
		HandleNotification("redraw", func(context.Context, []any) {}).
		Build(nil)
	if !errors.Is(err, router.ErrDuplicateMethod) {
		t.Errorf("expected ErrDuplicateMethod across kinds, got %v", err)
	}
}

func TestRouter_DispatchRequest(t *testing.T) {
	r, err := router.NewBuilder().
		Handle("enterBuf", func(_ context.Context, args []any) (any, error) {
			return len(args), nil
		}).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rec := &recorder{}
	if err := r.Dispatch(context.Background(), request("enterBuf", rec, "1", "/a", "a")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	r.Wait()

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected one answer, got %d", len(got))
	}
	if got[0].errVal != nil || got[0].result != 3 {
		t.Errorf("expected result 3, got %+v", got[0])
	}
}

func TestRouter_HandlerErrorAnswered(t *testing.T) {
	r, err := router.NewBuilder().
		Handle("writeBuf", func(context.Context, []any) (any, error) {
			return nil, errors.New("permission denied")
		}).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rec := &recorder{}
	_ = r.Dispatch(context.Background(), request("writeBuf", rec))
	r.Wait()

	got := rec.all()
	if len(got) != 1 || got[0].errVal == nil {
		t.Fatalf("expected an error answer, got %+v", got)
	}
}

func TestRouter_UnknownMethodUnanswered(t *testing.T) {
	r, err := router.NewBuilder().Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rec := &recorder{}
	msg := request("noSuchMethod", rec)
	err = r.Dispatch(context.Background(), msg)

	var pm *router.ProtocolMismatchError
	if !errors.As(err, &pm) || pm.Method != "noSuchMethod" {
		t.Fatalf("expected ProtocolMismatchError, got %v", err)
	}
	r.Wait()
	if len(rec.all()) != 0 {
		t.Error("expected no answer for unknown method")
	}
	if msg.Responder.Answered() {
		t.Error("expected responder to remain unanswered")
	}
}

func TestRouter_PanicAnsweredWithError(t *testing.T) {
	r, err := router.NewBuilder().
		Handle("closeBuf", func(context.Context, []any) (any, error) {
			panic("boom")
		}).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rec := &recorder{}
	_ = r.Dispatch(context.Background(), request("closeBuf", rec))
	r.Wait()

	got := rec.all()
	if len(got) != 1 || got[0].errVal == nil {
		t.Fatalf("expected error answer after panic, got %+v", got)
	}
}

func TestRouter_RequestsDoNotBlockDispatch(t *testing.T) {
	release := make(chan struct{})
	r, err := router.NewBuilder().
		Handle("slow", func(context.Context, []any) (any, error) {
			<-release
			return nil, nil
		}).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		_ = r.Dispatch(context.Background(), request("slow", rec))
		_ = r.Dispatch(context.Background(), request("slow", rec))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a running handler")
	}
	close(release)
	r.Wait()
	if got := len(rec.all()); got != 2 {
		t.Errorf("expected 2 answers, got %d", got)
	}
}

func TestRouter_Notification(t *testing.T) {
	var got []any
	r, err := router.NewBuilder().
		HandleNotification("nvbridge_event", func(_ context.Context, args []any) {
			got = args
		}).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	msg := rpc.Message{Kind: rpc.KindNotification, Method: "nvbridge_event", Args: []any{"x"}}
	if err := r.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected notification args, got %v", got)
	}

	unknown := rpc.Message{Kind: rpc.KindNotification, Method: "other"}
	var pm *router.ProtocolMismatchError
	if err := r.Dispatch(context.Background(), unknown); !errors.As(err, &pm) {
		t.Errorf("expected ProtocolMismatchError for unknown notification, got %v", err)
	}
}

func TestRouter_Methods(t *testing.T) {
	noop := func(context.Context, []any) (any, error) { return nil, nil }
	r, err := router.NewBuilder().
		Handle("writeBuf", noop).
		Handle("closeBuf", noop).
		Build(nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	methods := r.Methods()
	if len(methods) != 2 || methods[0] != "closeBuf" || methods[1] != "writeBuf" {
		t.Errorf("expected [closeBuf writeBuf], got %v", methods)
	}
	if !r.Has("writeBuf") || r.Has("enterBuf") {
		t.Error("unexpected Has result")
	}
}

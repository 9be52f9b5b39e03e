package tracker

import (
	"sync"
	"testing"
)

func TestTracker_EchoCounting(t *testing.T) {
	tr := New()
	if tr.ConsumeEcho() {
		t.Fatal("expected no echo on a fresh tracker")
	}

	tr.ExpectEcho()
	tr.ExpectEcho()
	if got := tr.Pending(); got != 2 {
		t.Fatalf("expected 2 pending, got %d", got)
	}
	if !tr.ConsumeEcho() || !tr.ConsumeEcho() {
		t.Fatal("expected two echoes to be consumed")
	}
	if tr.ConsumeEcho() {
		t.Error("expected the counter to stop at zero")
	}
	if got := tr.Pending(); got != 0 {
		t.Errorf("expected 0 pending, got %d", got)
	}
}

func TestTracker_CancelEcho(t *testing.T) {
	tr := New()
	tr.CancelEcho()
	if got := tr.Pending(); got != 0 {
		t.Fatalf("expected cancel on empty counter to be a no-op, got %d", got)
	}
	tr.ExpectEcho()
	tr.CancelEcho()
	if tr.ConsumeEcho() {
		t.Error("expected cancelled echo not to be consumed")
	}
}

func TestTracker_Ticks(t *testing.T) {
	tr := New()
	if got := tr.BufferTick(); got != -1 {
		t.Fatalf("expected initial tick -1, got %d", got)
	}
	if !tr.ShouldPull(3) {
		t.Error("expected pull before any tick is recorded")
	}

	tr.MarkPulled(3)
	if tr.ShouldPull(3) {
		t.Error("expected no pull at the recorded tick")
	}
	if !tr.ShouldPull(5) {
		t.Error("expected pull after the engine tick moved")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := New()
	tr.MarkPulled(9)
	tr.ExpectEcho()
	tr.Reset()

	if tr.BufferTick() != -1 || tr.Pending() != 0 {
		t.Errorf("expected reset state, got tick %d pending %d", tr.BufferTick(), tr.Pending())
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.ExpectEcho()
		}()
	}
	wg.Wait()

	consumed := 0
	for tr.ConsumeEcho() {
		consumed++
	}
	if consumed != 50 {
		t.Errorf("expected 50 echoes, got %d", consumed)
	}
}

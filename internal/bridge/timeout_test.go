package bridge

import (
	"testing"
	"time"
)

func TestTaskTimeout(t *testing.T) {
	if got := taskTimeout(0); got != 0 {
		t.Errorf("expected no task deadline without a call timeout, got %v", got)
	}
	if got := taskTimeout(2 * time.Second); got != 10*time.Second {
		t.Errorf("expected 10s, got %v", got)
	}
}

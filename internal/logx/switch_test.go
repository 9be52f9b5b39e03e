package logx

import (
	"strings"
	"testing"
)

func TestSwitch_DerivedLoggersFollowSet(t *testing.T) {
	capture := &logCapture{}
	sw := NewSwitch(New(capture, "info", false))
	derived := WithMethod(WithSession(sw, "s-1"), "enterBuf")

	derived.Debug("hidden")
	if capture.buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at info level, got %q", capture.buf.String())
	}

	sw.Set(New(capture, "debug", false))
	derived.Debug("shown")

	entry := capture.firstEntry(t)
	if entry["session"] != "s-1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
	if entry["method"] != "enterBuf" {
		t.Fatalf("expected method field, got %+v", entry)
	}
	if !strings.Contains(capture.buf.String(), "shown") {
		t.Fatalf("expected debug line after reload, got %q", capture.buf.String())
	}
}

func TestSwitch_SetFromDerived(t *testing.T) {
	first := &logCapture{}
	second := &logCapture{}
	sw := NewSwitch(New(first, "info", false))
	derived := sw.With("component", "router").(*Switch)

	derived.Set(New(second, "info", false))
	sw.Info("root")
	derived.Info("child")

	if first.buf.Len() != 0 {
		t.Fatalf("expected nothing on the replaced writer, got %q", first.buf.String())
	}
	out := second.buf.String()
	if !strings.Contains(out, "root") || !strings.Contains(out, "child") {
		t.Fatalf("expected both lines on the new writer, got %q", out)
	}
}

func TestSwitch_NilSetDiscards(t *testing.T) {
	capture := &logCapture{}
	sw := NewSwitch(New(capture, "info", false))
	sw.Set(nil)
	sw.Error("dropped")
	if capture.buf.Len() != 0 {
		t.Fatalf("expected no output after Set(nil), got %q", capture.buf.String())
	}
}

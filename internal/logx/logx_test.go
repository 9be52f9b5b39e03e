package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func TestWithBufferAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	WithBuffer(logger, 3, "/tmp/a.txt").Info("hello")

	entry := capture.firstEntry(t)
	if entry["path"] != "/tmp/a.txt" {
		t.Fatalf("expected path field, got %+v", entry)
	}
	if n, ok := entry["buffer"].(float64); !ok || n != 3 {
		t.Fatalf("expected buffer field, got %+v", entry)
	}
}

func TestWithBufferSkipsEmpty(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	WithBuffer(logger, 0, "").Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["buffer"]; ok {
		t.Fatalf("did not expect buffer for unknown buffer")
	}
	if _, ok := entry["path"]; ok {
		t.Fatalf("did not expect path for empty path")
	}
}

func TestContextWithSession(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := ContextWithSession(context.Background(), logger, "s-1")
	WithMethod(pslog.Ctx(ctx), "writeBuf").Info("hello")

	entry := capture.firstEntry(t)
	if entry["session"] != "s-1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
	if entry["method"] != "writeBuf" {
		t.Fatalf("expected method field, got %+v", entry)
	}
}

func TestNewHonorsLevel(t *testing.T) {
	capture := &logCapture{}
	log := New(capture, "error", false)
	log.Info("dropped")
	if capture.buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at error level, got %q", capture.buf.String())
	}
	log.Error("kept")
	if capture.buf.Len() == 0 {
		t.Fatal("expected error to be written")
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", ""} {
		if !ValidLevel(level) {
			t.Errorf("expected %q to be valid", level)
		}
	}
	if ValidLevel("loud") {
		t.Error("expected loud to be invalid")
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/nvbridge/internal/host"
	"github.com/dshills/nvbridge/internal/keyqueue"
	"github.com/dshills/nvbridge/internal/luachunk"
	"github.com/dshills/nvbridge/internal/rpc"
)

// Host listeners run on whatever goroutine the host emits from, possibly
// inside a lifecycle handler that holds the reconcile lock. They never
// call the engine themselves; the work is queued on the key pipeline so it
// stays ordered with keystrokes.

func (s *Session) subscribe() {
	unsubscribe := []func(){
		s.workspace.OnDidChange(s.onDocumentChange),
		s.workspace.OnActiveDocumentChange(s.onActiveDocument),
		s.workspace.OnSelectionChange(s.onSelection),
	}
	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, unsubscribe...)
	s.mu.Unlock()
}

func (s *Session) onDocumentChange(ev host.ChangeEvent) {
	// Edits the bridge applied itself come back here once each.
	if s.tracker.ConsumeEcho() {
		return
	}
	doc := ev.Document
	s.enqueue("push document", func(ctx context.Context) error {
		return s.pushDocument(ctx, doc)
	})
}

func (s *Session) onActiveDocument(doc host.Document) {
	if doc == nil || s.lifecycle.Activating(doc.Path()) {
		return
	}
	s.enqueue("activate document", func(ctx context.Context) error {
		return s.activate(ctx, doc)
	})
}

func (s *Session) onSelection(ev host.SelectionEvent) {
	if ev.Selection.Kind != host.SelectionMouse || !s.isActive(ev.Document) || !s.lifecycle.Backs(ev.Document.Path()) {
		return
	}
	pos := ev.Selection.Active
	s.enqueue("move cursor", func(ctx context.Context) error {
		return s.transport.Call(ctx, "nvim_win_set_cursor", nil, 0, []any{pos.Line + 1, pos.Col})
	})
}

func (s *Session) enqueue(name string, task keyqueue.Task) {
	if _, err := s.pipeline.Enqueue(task); err != nil {
		s.log().With("err", err).Debug("host change not forwarded", "task", name)
	}
}

func (s *Session) isActive(doc host.Document) bool {
	active := s.workspace.Active()
	return doc != nil && active != nil && active.Path() == doc.Path()
}

// pushDocument replaces the engine's current buffer with the host text.
// Only the active document is mirrored by the current buffer, and only
// while the engine shows that document's buffer.
func (s *Session) pushDocument(ctx context.Context, doc host.Document) error {
	if !s.isActive(doc) {
		return nil
	}
	s.reconcile.Lock()
	defer s.reconcile.Unlock()
	if !s.lifecycle.Backs(doc.Path()) {
		s.log().Debug("host edit not pushed, engine is in another buffer", "path", doc.Path())
		return nil
	}
	return s.copyText(ctx, doc)
}

// activate makes the engine edit doc's file and loads the host text into
// it. The edit triggers enterBuf, which must not pull the file contents
// over unsaved host text, so the path is held and the reconcile lock is
// only taken after the edit returns.
func (s *Session) activate(ctx context.Context, doc host.Document) error {
	path := doc.Path()
	release := s.lifecycle.Hold(path)
	defer release()

	if err := luachunk.EditCall.Exec(ctx, s.transport, nil, path); err != nil {
		return fmt.Errorf("edit %s: %w", path, err)
	}

	s.reconcile.Lock()
	defer s.reconcile.Unlock()
	return s.copyText(ctx, doc)
}

// copyText sends the document through the copy helper and records the
// resulting tick as produced by the bridge. Callers hold s.reconcile.
func (s *Session) copyText(ctx context.Context, doc host.Document) error {
	cursor := doc.Selection().Active
	if err := luachunk.CopyTextCall.Exec(ctx, s.transport, nil, doc.Lines(), cursor.Line+1, cursor.Col); err != nil {
		return err
	}
	var tick int
	if err := s.transport.Call(ctx, "nvim_buf_get_changedtick", &tick, 0); err != nil {
		return fmt.Errorf("read changedtick: %w", err)
	}
	s.tracker.MarkPulled(tick)
	return nil
}

// CloseDocument closes path in the host and forgets its engine buffer.
// The buffer is wiped when buffers.wipe_on_close is set.
func (s *Session) CloseDocument(ctx context.Context, path string) error {
	if err := s.workspace.Close(path); err != nil && !errors.Is(err, host.ErrDocumentNotFound) {
		return err
	}
	t, err := s.pipeline.Enqueue(func(ctx context.Context) error {
		return s.forgetBuffer(ctx, path)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return t.Wait(ctx)
}

func (s *Session) forgetBuffer(ctx context.Context, path string) error {
	var raw any
	if err := s.transport.Call(ctx, "nvim_call_function", &raw, "bufnr", []any{"^" + path + "$"}); err != nil {
		return fmt.Errorf("look up buffer: %w", err)
	}
	buf, ok := rpc.AsInt(raw)
	if !ok || buf < 1 {
		return nil
	}
	if !s.cfg.Buffers.WipeOnClose {
		s.log().Debug("buffer kept after close", "buffer", buf, "path", path)
		return nil
	}
	if err := s.transport.Call(ctx, "nvim_command", nil, fmt.Sprintf("noautocmd %dbw!", buf)); err != nil {
		return fmt.Errorf("wipe buffer %d: %w", buf, err)
	}
	return nil
}

package host

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestTokenInput(t *testing.T) {
	tests := []struct {
		token Token
		want  string
	}{
		{Token{Text: "i"}, "i"},
		{Token{Text: "a<b"}, "a<LT>b"},
		{Token{Text: "<Esc>", Raw: true}, "<Esc>"},
	}
	for _, tt := range tests {
		if got := tt.token.Input(); got != tt.want {
			t.Errorf("Input(%+v) = %q, expected %q", tt.token, got, tt.want)
		}
	}
}

func TestMemDocument_SetText(t *testing.T) {
	ws := NewMemWorkspace()
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello\nworld\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := ws.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := doc.Text(); got != "hello\nworld" {
		t.Fatalf("expected file content, got %q", got)
	}

	var events []ChangeEvent
	ws.OnDidChange(func(ev ChangeEvent) { events = append(events, ev) })

	r := Range{Start: Position{Line: 0, Col: 1}, End: Position{Line: 1, Col: 2}}
	if err := doc.SetText(r, "ELLO\nWO"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	if got := doc.Text(); got != "hELLO\nWOrld" {
		t.Errorf("expected hELLO\\nWOrld, got %q", got)
	}
	if len(events) != 1 || events[0].Version != 1 {
		t.Errorf("expected one change event at version 1, got %+v", events)
	}
	if !doc.Modified() {
		t.Error("expected document to be modified")
	}

	bad := Range{Start: Position{Line: 5}, End: Position{Line: 6}}
	if err := doc.SetText(bad, "x"); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestMemDocument_FullRangeReplace(t *testing.T) {
	doc := NewMemDocument("/x", "a\nbc")
	if err := doc.SetText(FullRange(doc.Lines()), "one\ntwo\nthree"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	if got := len(doc.Lines()); got != 3 {
		t.Errorf("expected 3 lines, got %d", got)
	}
}

func TestMemWorkspace_ActiveListeners(t *testing.T) {
	ws := NewMemWorkspace()
	dir := t.TempDir()

	var actives []Document
	ws.OnActiveDocumentChange(func(d Document) { actives = append(actives, d) })

	a, err := ws.Open(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := ws.Open(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := ws.Open(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(actives) != 2 {
		t.Fatalf("expected 2 active changes, got %d", len(actives))
	}

	if err := ws.Close(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if ws.Active() != a {
		t.Errorf("expected a to become active after closing b")
	}
	if err := ws.Close(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if ws.Active() != nil {
		t.Errorf("expected no active document")
	}
	if actives[len(actives)-1] != nil {
		t.Errorf("expected nil active notification after last close")
	}
	if err := ws.Close(filepath.Join(dir, "a.txt")); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestMemWorkspace_SelectionListener(t *testing.T) {
	ws := NewMemWorkspace()
	doc, err := ws.Open(filepath.Join(t.TempDir(), "s.txt"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var got []SelectionEvent
	unsubscribe := ws.OnSelectionChange(func(ev SelectionEvent) { got = append(got, ev) })

	sel := Cursor(Position{Line: 0, Col: 0}, SelectionMouse)
	doc.SetSelection(Selection{Anchor: Position{Col: 1}, Active: Position{Col: 1}, Kind: SelectionMouse})
	doc.SetSelection(sel)
	doc.SetSelection(sel)
	if len(got) != 2 {
		t.Fatalf("expected 2 selection events, got %d", len(got))
	}

	unsubscribe()
	doc.SetSelection(Cursor(Position{Col: 0}, SelectionKeyboard))
	if len(got) != 2 {
		t.Errorf("expected no events after unsubscribe, got %d", len(got))
	}
}

func TestMessageLog(t *testing.T) {
	log := NewMessageLog(2)
	var seen int
	log.OnNotify(func(Message) { seen++ })

	log.ShowInfo("a")
	log.ShowError("b")
	log.ShowInfo("c")

	msgs := log.Messages()
	if len(msgs) != 2 || msgs[0].Text != "b" || !msgs[0].Error {
		t.Errorf("expected [b c] with b an error, got %+v", msgs)
	}
	if last, ok := log.Last(); !ok || last.Text != "c" {
		t.Errorf("expected last c, got %+v", last)
	}
	if seen != 3 {
		t.Errorf("expected 3 notifications, got %d", seen)
	}
}

package host

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Workspace errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidRange     = errors.New("invalid range")
)

// MemDocument is an in-memory Document.
type MemDocument struct {
	path string

	mu        sync.RWMutex
	lines     []string
	selection Selection

	version  atomic.Int64
	modified atomic.Bool

	ws *MemWorkspace
}

// NewMemDocument creates a detached document holding text.
func NewMemDocument(path, text string) *MemDocument {
	return &MemDocument{path: path, lines: SplitLines(text)}
}

// Path returns the absolute file path.
func (d *MemDocument) Path() string {
	return d.path
}

// Text returns the full document content.
func (d *MemDocument) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return JoinLines(d.lines)
}

// Lines returns a copy of the document lines.
func (d *MemDocument) Lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.lines...)
}

// SetText replaces r with text and notifies the workspace listeners.
func (d *MemDocument) SetText(r Range, text string) error {
	d.mu.Lock()
	start, ok1 := d.offset(r.Start)
	end, ok2 := d.offset(r.End)
	if !ok1 || !ok2 || end < start {
		d.mu.Unlock()
		return ErrInvalidRange
	}
	content := JoinLines(d.lines)
	d.lines = SplitLines(content[:start] + text + content[end:])
	version := d.version.Add(1)
	d.mu.Unlock()

	d.modified.Store(true)
	if d.ws != nil {
		d.ws.emitChange(ChangeEvent{Document: d, Range: r, Text: text, Version: version})
	}
	return nil
}

// offset converts p to a byte offset into the joined text. Callers hold d.mu.
func (d *MemDocument) offset(p Position) (int, bool) {
	if p.Line < 0 || p.Line >= len(d.lines) || p.Col < 0 || p.Col > len(d.lines[p.Line]) {
		return 0, false
	}
	off := 0
	for i := 0; i < p.Line; i++ {
		off += len(d.lines[i]) + 1
	}
	return off + p.Col, true
}

// Selection returns the current selection.
func (d *MemDocument) Selection() Selection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selection
}

// SetSelection moves the selection and notifies the workspace listeners.
func (d *MemDocument) SetSelection(sel Selection) {
	d.mu.Lock()
	if d.selection == sel {
		d.mu.Unlock()
		return
	}
	d.selection = sel
	d.mu.Unlock()

	if d.ws != nil {
		d.ws.emitSelection(SelectionEvent{Document: d, Selection: sel})
	}
}

// Version returns the edit counter.
func (d *MemDocument) Version() int64 {
	return d.version.Load()
}

// Modified returns true if the document has unsaved changes.
func (d *MemDocument) Modified() bool {
	return d.modified.Load()
}

// SetModified sets the modified flag.
func (d *MemDocument) SetModified(modified bool) {
	d.modified.Store(modified)
}

// MemWorkspace is an in-memory Workspace backed by the file system for
// initial content.
type MemWorkspace struct {
	mu        sync.RWMutex
	documents map[string]*MemDocument
	active    *MemDocument
	order     []string

	listenerMu   sync.RWMutex
	nextListener int
	changeFns    map[int]func(ChangeEvent)
	activeFns    map[int]func(Document)
	selectionFns map[int]func(SelectionEvent)
}

// NewMemWorkspace creates an empty workspace.
func NewMemWorkspace() *MemWorkspace {
	return &MemWorkspace{
		documents:    make(map[string]*MemDocument),
		changeFns:    make(map[int]func(ChangeEvent)),
		activeFns:    make(map[int]func(Document)),
		selectionFns: make(map[int]func(SelectionEvent)),
	}
}

// Open opens a document from a file, or an empty one when the file does not
// exist yet. An already open document is returned as is. Either way it
// becomes the active document.
func (w *MemWorkspace) Open(path string) (Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	doc, exists := w.documents[absPath]
	if !exists {
		content, err := os.ReadFile(absPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.mu.Unlock()
			return nil, err
		}
		doc = NewMemDocument(absPath, string(content))
		doc.ws = w
		w.documents[absPath] = doc
		w.order = append(w.order, absPath)
	}
	changed := w.active != doc
	w.active = doc
	w.mu.Unlock()

	if changed {
		w.emitActive(doc)
	}
	return doc, nil
}

// Lookup returns an open document by path.
func (w *MemWorkspace) Lookup(path string) (Document, bool) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, exists := w.documents[path]
	if !exists {
		return nil, false
	}
	return doc, true
}

// Close closes a document by path.
func (w *MemWorkspace) Close(path string) error {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	w.mu.Lock()
	doc, exists := w.documents[path]
	if !exists {
		w.mu.Unlock()
		return ErrDocumentNotFound
	}
	delete(w.documents, path)
	for i, p := range w.order {
		if p == path {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}

	var next *MemDocument
	changed := false
	if w.active == doc {
		if len(w.order) > 0 {
			next = w.documents[w.order[len(w.order)-1]]
		}
		w.active = next
		changed = true
	}
	w.mu.Unlock()

	if changed {
		w.emitActive(nilDocument(next))
	}
	return nil
}

// Active returns the active document, or nil.
func (w *MemWorkspace) Active() Document {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return nilDocument(w.active)
}

// Paths returns the open document paths in open order.
func (w *MemWorkspace) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.order...)
}

// OnDidChange registers a document change listener.
func (w *MemWorkspace) OnDidChange(fn func(ChangeEvent)) func() {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	id := w.nextListener
	w.nextListener++
	w.changeFns[id] = fn
	return func() {
		w.listenerMu.Lock()
		delete(w.changeFns, id)
		w.listenerMu.Unlock()
	}
}

// OnActiveDocumentChange registers an active document listener. The
// listener receives nil when the last document closes.
func (w *MemWorkspace) OnActiveDocumentChange(fn func(Document)) func() {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	id := w.nextListener
	w.nextListener++
	w.activeFns[id] = fn
	return func() {
		w.listenerMu.Lock()
		delete(w.activeFns, id)
		w.listenerMu.Unlock()
	}
}

// OnSelectionChange registers a selection listener.
func (w *MemWorkspace) OnSelectionChange(fn func(SelectionEvent)) func() {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	id := w.nextListener
	w.nextListener++
	w.selectionFns[id] = fn
	return func() {
		w.listenerMu.Lock()
		delete(w.selectionFns, id)
		w.listenerMu.Unlock()
	}
}

func (w *MemWorkspace) emitChange(ev ChangeEvent) {
	w.listenerMu.RLock()
	fns := make([]func(ChangeEvent), 0, len(w.changeFns))
	for _, fn := range w.changeFns {
		fns = append(fns, fn)
	}
	w.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (w *MemWorkspace) emitActive(doc Document) {
	w.listenerMu.RLock()
	fns := make([]func(Document), 0, len(w.activeFns))
	for _, fn := range w.activeFns {
		fns = append(fns, fn)
	}
	w.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(doc)
	}
}

func (w *MemWorkspace) emitSelection(ev SelectionEvent) {
	w.listenerMu.RLock()
	fns := make([]func(SelectionEvent), 0, len(w.selectionFns))
	for _, fn := range w.selectionFns {
		fns = append(fns, fn)
	}
	w.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// nilDocument keeps a nil *MemDocument from becoming a non-nil interface.
func nilDocument(d *MemDocument) Document {
	if d == nil {
		return nil
	}
	return d
}

// MemTabs records tab pages.
type MemTabs struct {
	mu   sync.Mutex
	tabs []string
}

// NewTab appends a tab page showing path.
func (t *MemTabs) NewTab(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tabs = append(t.tabs, path)
	return nil
}

// Tabs returns the recorded tab pages.
func (t *MemTabs) Tabs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tabs...)
}

// Message is one user notification.
type Message struct {
	Error bool
	Text  string
}

// MessageLog is a Notifier that keeps the most recent messages.
type MessageLog struct {
	mu       sync.Mutex
	limit    int
	messages []Message
	onNotify func(Message)
}

// NewMessageLog keeps up to limit messages.
func NewMessageLog(limit int) *MessageLog {
	if limit < 1 {
		limit = 1
	}
	return &MessageLog{limit: limit}
}

// OnNotify sets a callback invoked for every new message.
func (l *MessageLog) OnNotify(fn func(Message)) {
	l.mu.Lock()
	l.onNotify = fn
	l.mu.Unlock()
}

// ShowError records an error message.
func (l *MessageLog) ShowError(msg string) {
	l.add(Message{Error: true, Text: msg})
}

// ShowInfo records an informational message.
func (l *MessageLog) ShowInfo(msg string) {
	l.add(Message{Text: msg})
}

// Last returns the newest message.
func (l *MessageLog) Last() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Messages returns the kept messages, oldest first.
func (l *MessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...)
}

func (l *MessageLog) add(m Message) {
	l.mu.Lock()
	l.messages = append(l.messages, m)
	if len(l.messages) > l.limit {
		l.messages = l.messages[len(l.messages)-l.limit:]
	}
	fn := l.onNotify
	l.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

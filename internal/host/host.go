// Package host defines the editor-side collaborators the bridge drives:
// documents, the workspace that owns them, tabs and user notifications.
package host

import "strings"

// Position is a zero-based line and byte column.
type Position struct {
	Line, Col int
}

// Range spans [Start, End).
type Range struct {
	Start, End Position
}

// SelectionKind tells where a selection change came from.
type SelectionKind int

const (
	SelectionCommand SelectionKind = iota
	SelectionKeyboard
	SelectionMouse
)

// Selection is a cursor (Anchor == Active) or a selected span.
type Selection struct {
	Anchor Position
	Active Position
	Kind   SelectionKind
}

// Cursor returns a collapsed selection at p.
func Cursor(p Position, kind SelectionKind) Selection {
	return Selection{Anchor: p, Active: p, Kind: kind}
}

// Document is one open text document.
type Document interface {
	Path() string
	Text() string
	Lines() []string
	// SetText replaces r with text.
	SetText(r Range, text string) error
	Selection() Selection
	SetSelection(sel Selection)
	Version() int64
	Modified() bool
	SetModified(modified bool)
}

// ChangeEvent describes one edit of a document.
type ChangeEvent struct {
	Document Document
	Range    Range
	Text     string
	Version  int64
}

// SelectionEvent describes a selection change.
type SelectionEvent struct {
	Document  Document
	Selection Selection
}

// Workspace owns the open documents and tracks the active one.
type Workspace interface {
	Active() Document
	// Open opens path, or returns the already open document, and makes it
	// active.
	Open(path string) (Document, error)
	Lookup(path string) (Document, bool)
	Close(path string) error

	OnDidChange(fn func(ChangeEvent)) (unsubscribe func())
	OnActiveDocumentChange(fn func(Document)) (unsubscribe func())
	OnSelectionChange(fn func(SelectionEvent)) (unsubscribe func())
}

// Tabs mirrors tab pages.
type Tabs interface {
	NewTab(path string) error
}

// Notifier shows messages to the user.
type Notifier interface {
	ShowError(msg string)
	ShowInfo(msg string)
}

// Token is one unit of host input. Raw tokens are already in Vim key
// notation ("<Esc>", "<C-w>"); text tokens are typed characters.
type Token struct {
	Text string
	Raw  bool
}

// Input returns the token in the form nvim_input expects.
func (t Token) Input() string {
	if t.Raw {
		return t.Text
	}
	return strings.ReplaceAll(t.Text, "<", "<LT>")
}

// SplitLines splits text into lines the way the engine stores them: a
// trailing newline does not start an extra line.
func SplitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// JoinLines is the inverse of SplitLines.
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// FullRange returns the range covering all of lines.
func FullRange(lines []string) Range {
	if len(lines) == 0 {
		return Range{}
	}
	last := len(lines) - 1
	return Range{End: Position{Line: last, Col: len(lines[last])}}
}

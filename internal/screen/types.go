package screen

import (
	"fmt"
	"strings"
)

// Attribute represents text attributes (bold, italic, etc.).
type Attribute uint16

// Text attribute flags.
const (
	AttrNone          Attribute = 0
	AttrBold          Attribute = 1 << iota
	AttrItalic                  // Italic text
	AttrUnderline               // Underlined text
	AttrUndercurl               // Curly underline, drawn as underline when unsupported
	AttrReverse                 // Reverse video (swap fg/bg)
	AttrStrikethrough           // Strikethrough text
)

// Has returns true if the attribute set contains the given attribute.
func (a Attribute) Has(attr Attribute) bool {
	return a&attr != 0
}

// Color is a 24-bit color or the UI default.
type Color struct {
	R, G, B uint8
	// Default indicates the color was not set and the UI default applies.
	Default bool
}

// ColorDefault represents an unset color.
var ColorDefault = Color{Default: true}

// ColorFromRGB converts the packed 0xRRGGBB integer used on the wire.
// Negative values mean "unset".
func ColorFromRGB(v int) Color {
	if v < 0 {
		return ColorDefault
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// String returns a string representation of the color.
func (c Color) String() string {
	if c.Default {
		return "default"
	}
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Highlight is one entry of the highlight table defined by hl_attr_define.
type Highlight struct {
	Foreground Color
	Background Color
	Special    Color
	Attrs      Attribute
}

// DefaultHighlight has every color unset and no attributes.
var DefaultHighlight = Highlight{
	Foreground: ColorDefault,
	Background: ColorDefault,
	Special:    ColorDefault,
}

// Cell is one grid position. HL 0 is the default highlight. The right half
// of a double-width character has empty Text.
type Cell struct {
	Text string
	HL   int
}

var blankCell = Cell{Text: " "}

// Cursor is a zero-based grid position.
type Cursor struct {
	Row, Col int
}

// Mode is the coarse editing mode of the engine.
type Mode int

// Editing modes.
const (
	ModeUnknown Mode = iota
	ModeNormal
	ModeInsert
	ModeVisual
	ModeSelect
	ModeReplace
	ModeCmdline
	ModeOperatorPending
	ModePrompt
)

var modeNames = map[Mode]string{
	ModeUnknown:         "unknown",
	ModeNormal:          "normal",
	ModeInsert:          "insert",
	ModeVisual:          "visual",
	ModeSelect:          "select",
	ModeReplace:         "replace",
	ModeCmdline:         "cmdline",
	ModeOperatorPending: "operator-pending",
	ModePrompt:          "prompt",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ModeFromName maps a mode_change name to a Mode.
func ModeFromName(name string) Mode {
	switch {
	case name == "normal":
		return ModeNormal
	case name == "insert" || name == "showmatch":
		return ModeInsert
	case name == "visual":
		return ModeVisual
	case name == "visual_select" || name == "select":
		return ModeSelect
	case name == "replace":
		return ModeReplace
	case strings.HasPrefix(name, "cmdline"):
		return ModeCmdline
	case name == "operator":
		return ModeOperatorPending
	case isPromptMode(name):
		return ModePrompt
	default:
		return ModeUnknown
	}
}

// isPromptMode reports whether the engine waits for a prompt answer in mode
// name. Keys typed in these modes answer the prompt instead of editing.
func isPromptMode(name string) bool {
	switch name {
	case "more", "more_lastline", "confirm":
		return true
	}
	return false
}

// ModeState is the engine's current mode as reported through redraw.
type ModeState struct {
	Mode Mode
	Name string
	// Blocking is true while the engine shows a command line or a prompt.
	Blocking bool
}

// Cmdline is the externalized command line.
type Cmdline struct {
	Visible   bool
	Content   string
	Pos       int
	FirstChar string
	Prompt    string
	Indent    int
	Level     int
}

// Wildmenu is the externalized completion menu of the command line.
type Wildmenu struct {
	Visible  bool
	Items    []string
	Selected int
}

// Snapshot is an immutable copy of the screen taken at a flush.
type Snapshot struct {
	// Frame counts flushes; zero is the blank screen before the first flush.
	Frame uint64

	Width, Height int
	Cells         [][]Cell
	Cursor        Cursor
	Mode          ModeState
	Highlights    map[int]Highlight
	Default       Highlight
	Cmdline       Cmdline
	Wildmenu      Wildmenu
	Title         string
	Busy          bool
}

// Cell returns the cell at row, col, or a blank cell when out of range.
func (s *Snapshot) Cell(row, col int) Cell {
	if row < 0 || row >= len(s.Cells) || col < 0 || col >= len(s.Cells[row]) {
		return blankCell
	}
	return s.Cells[row][col]
}

// Row returns the text of one grid row.
func (s *Snapshot) Row(row int) string {
	if row < 0 || row >= len(s.Cells) {
		return ""
	}
	var b strings.Builder
	for _, c := range s.Cells[row] {
		b.WriteString(c.Text)
	}
	return b.String()
}

// Highlight resolves a highlight id, falling back to the default colors for
// unset fields and unknown ids.
func (s *Snapshot) Highlight(id int) Highlight {
	hl, ok := s.Highlights[id]
	if !ok {
		return s.Default
	}
	if hl.Foreground.Default {
		hl.Foreground = s.Default.Foreground
	}
	if hl.Background.Default {
		hl.Background = s.Default.Background
	}
	if hl.Special.Default {
		hl.Special = s.Default.Special
	}
	return hl
}

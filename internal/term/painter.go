// Package term is a terminal host for the bridge: it paints screen
// snapshots with tcell and turns terminal key events into host tokens.
package term

import (
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/nvbridge/internal/screen"
)

// Painter draws snapshots onto a tcell screen.
type Painter struct {
	screen tcell.Screen
}

// NewPainter creates a painter for s.
func NewPainter(s tcell.Screen) *Painter {
	return &Painter{screen: s}
}

// Paint draws snap and shows it. The externalized command line, when
// visible, replaces the last grid row; the wildmenu uses the row above it.
func (p *Painter) Paint(snap *screen.Snapshot) {
	for row := 0; row < snap.Height; row++ {
		for col := 0; col < snap.Width; col++ {
			cell := snap.Cell(row, col)
			if cell.Text == "" {
				// Right half of a wide character.
				continue
			}
			r, _ := utf8.DecodeRuneInString(cell.Text)
			p.screen.SetContent(col, row, r, nil, convertStyle(snap.Highlight(cell.HL)))
		}
	}

	cursor := snap.Cursor
	if snap.Wildmenu.Visible && snap.Height > 1 {
		p.drawWildmenu(snap, snap.Height-2)
	}
	if snap.Cmdline.Visible && snap.Height > 0 {
		cursor = p.drawCmdline(snap, snap.Height-1)
	}
	p.screen.ShowCursor(cursor.Col, cursor.Row)
	p.screen.Show()
}

func (p *Painter) drawCmdline(snap *screen.Snapshot, row int) screen.Cursor {
	style := convertStyle(snap.Default)
	line := snap.Cmdline.FirstChar + snap.Cmdline.Prompt
	for i := 0; i < snap.Cmdline.Indent; i++ {
		line += " "
	}
	prefix := utf8.RuneCountInString(line)
	line += snap.Cmdline.Content

	col := p.drawText(0, row, snap.Width, line, style)
	p.fill(col, row, snap.Width, style)

	// Pos is a byte offset into Content.
	pos := snap.Cmdline.Pos
	if pos > len(snap.Cmdline.Content) {
		pos = len(snap.Cmdline.Content)
	}
	if pos < 0 {
		pos = 0
	}
	x := prefix + utf8.RuneCountInString(snap.Cmdline.Content[:pos])
	if x >= snap.Width {
		x = snap.Width - 1
	}
	return screen.Cursor{Row: row, Col: x}
}

func (p *Painter) drawWildmenu(snap *screen.Snapshot, row int) {
	normal := convertStyle(snap.Default)
	selected := normal.Reverse(true)

	col := 0
	for i, item := range snap.Wildmenu.Items {
		style := normal
		if i == snap.Wildmenu.Selected {
			style = selected
		}
		col = p.drawText(col, row, snap.Width, item, style)
		col = p.drawText(col, row, snap.Width, "  ", normal)
	}
	p.fill(col, row, snap.Width, normal)
}

func (p *Painter) drawText(col, row, width int, text string, style tcell.Style) int {
	for _, r := range text {
		if col >= width {
			break
		}
		p.screen.SetContent(col, row, r, nil, style)
		col++
	}
	return col
}

func (p *Painter) fill(col, row, width int, style tcell.Style) {
	for ; col < width; col++ {
		p.screen.SetContent(col, row, ' ', nil, style)
	}
}

// convertStyle converts a resolved highlight to a tcell style.
func convertStyle(h screen.Highlight) tcell.Style {
	style := tcell.StyleDefault

	if !h.Foreground.Default {
		style = style.Foreground(tcell.NewRGBColor(int32(h.Foreground.R), int32(h.Foreground.G), int32(h.Foreground.B)))
	}
	if !h.Background.Default {
		style = style.Background(tcell.NewRGBColor(int32(h.Background.R), int32(h.Background.G), int32(h.Background.B)))
	}

	if h.Attrs.Has(screen.AttrBold) {
		style = style.Bold(true)
	}
	if h.Attrs.Has(screen.AttrItalic) {
		style = style.Italic(true)
	}
	if h.Attrs.Has(screen.AttrUnderline) || h.Attrs.Has(screen.AttrUndercurl) {
		style = style.Underline(true)
	}
	if h.Attrs.Has(screen.AttrReverse) {
		style = style.Reverse(true)
	}
	if h.Attrs.Has(screen.AttrStrikethrough) {
		style = style.StrikeThrough(true)
	}
	return style
}

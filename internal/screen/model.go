// Package screen reconstructs the engine's screen from linegrid redraw
// events.
//
// A Model is a pure state machine: applying the same batches to two models
// created with the same size yields identical snapshots. Mutations accumulate
// in a working state and become visible through Snapshot only when a flush
// event is applied, so observers never see a half-drawn frame.
package screen

import (
	"maps"
	"sync"
)

// FlushFunc observes published snapshots.
type FlushFunc func(Snapshot)

// Model holds the working screen state and the last published snapshot.
type Model struct {
	mu sync.Mutex

	width, height int
	cells         [][]Cell
	cursor        Cursor
	highlights    map[int]Highlight
	defaults      Highlight
	modeInfo      []ModeInfo
	mode          ModeState
	cmdline       Cmdline
	wildmenu      Wildmenu
	title         string
	busy          bool

	frame     uint64
	published Snapshot

	listenerMu sync.RWMutex
	listeners  []FlushFunc
}

// NewModel creates a blank model of the given size. The initial snapshot is
// frame zero.
func NewModel(width, height int) *Model {
	m := &Model{
		highlights: make(map[int]Highlight),
		defaults:   DefaultHighlight,
		mode:       ModeState{Mode: ModeNormal, Name: "normal"},
	}
	m.resize(width, height)
	m.published = m.snapshot()
	return m
}

// OnFlush registers fn to be called with every published snapshot. Calls
// happen on the goroutine that applied the flush, after the model lock is
// released.
func (m *Model) OnFlush(fn FlushFunc) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns the state as of the last flush.
func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// Apply applies every event of the batch in order. The batch is atomic with
// respect to Snapshot.
func (m *Model) Apply(batch Batch) {
	var frames []Snapshot

	m.mu.Lock()
	for _, ev := range batch {
		if _, ok := ev.(Flush); ok {
			m.frame++
			m.published = m.snapshot()
			frames = append(frames, m.published)
			continue
		}
		m.apply(ev)
	}
	m.mu.Unlock()

	if len(frames) == 0 {
		return
	}
	m.listenerMu.RLock()
	listeners := append([]FlushFunc(nil), m.listeners...)
	m.listenerMu.RUnlock()
	for _, snap := range frames {
		for _, fn := range listeners {
			fn(snap)
		}
	}
}

func (m *Model) apply(ev Event) {
	switch e := ev.(type) {
	case HLAttrDefine:
		m.highlights[e.ID] = e.Attr
	case DefaultColorsSet:
		m.defaults = Highlight{
			Foreground: ColorFromRGB(e.Foreground),
			Background: ColorFromRGB(e.Background),
			Special:    ColorFromRGB(e.Special),
		}
	case GridResize:
		m.resize(e.Width, e.Height)
	case GridClear:
		m.clear()
	case GridCursorGoto:
		m.cursor = m.clamp(e.Row, e.Col)
	case GridLine:
		m.putLine(e)
	case GridScroll:
		m.scroll(e)
	case ModeInfoSet:
		m.modeInfo = append([]ModeInfo(nil), e.Modes...)
	case ModeChange:
		m.changeMode(e)
	case BusyStart:
		m.busy = true
	case BusyStop:
		m.busy = false
	case CmdlineShow:
		m.cmdline = Cmdline{
			Visible:   true,
			Content:   e.Content,
			Pos:       e.Pos,
			FirstChar: e.FirstChar,
			Prompt:    e.Prompt,
			Indent:    e.Indent,
			Level:     e.Level,
		}
		m.mode.Blocking = true
	case CmdlinePos:
		m.cmdline.Pos = e.Pos
		m.cmdline.Level = e.Level
	case CmdlineHide:
		m.cmdline = Cmdline{}
		m.mode.Blocking = isPromptMode(m.mode.Name)
	case WildmenuShow:
		m.wildmenu = Wildmenu{Visible: true, Items: append([]string(nil), e.Items...), Selected: -1}
	case WildmenuSelect:
		m.wildmenu.Selected = e.Selected
	case WildmenuHide:
		m.wildmenu = Wildmenu{}
	case SetTitle:
		m.title = e.Title
	}
	// Unknown events are ignored.
}

func (m *Model) changeMode(e ModeChange) {
	name := e.Name
	// The index refers to the mode_info_set table when the name is terse.
	if name == "" && e.Index >= 0 && e.Index < len(m.modeInfo) {
		name = m.modeInfo[e.Index].Name
	}
	m.mode.Name = name
	m.mode.Mode = ModeFromName(name)
	m.mode.Blocking = m.cmdline.Visible || isPromptMode(name)
}

func (m *Model) resize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	cells := make([][]Cell, height)
	for r := range cells {
		row := make([]Cell, width)
		for c := range row {
			if r < len(m.cells) && c < len(m.cells[r]) {
				row[c] = m.cells[r][c]
			} else {
				row[c] = blankCell
			}
		}
		cells[r] = row
	}
	m.width, m.height = width, height
	m.cells = cells
	m.cursor = m.clamp(m.cursor.Row, m.cursor.Col)
}

func (m *Model) clear() {
	for _, row := range m.cells {
		for c := range row {
			row[c] = blankCell
		}
	}
}

func (m *Model) clamp(row, col int) Cursor {
	row = min(max(row, 0), m.height-1)
	col = min(max(col, 0), m.width-1)
	return Cursor{Row: row, Col: col}
}

func (m *Model) putLine(e GridLine) {
	if e.Row < 0 || e.Row >= m.height {
		return
	}
	row := m.cells[e.Row]
	col := e.ColStart
	for _, lc := range e.Cells {
		for i := 0; i < lc.Repeat; i++ {
			if col >= 0 && col < m.width {
				row[col] = Cell{Text: lc.Text, HL: lc.HL}
			}
			col++
		}
	}
}

func (m *Model) scroll(e GridScroll) {
	top := max(e.Top, 0)
	bot := min(e.Bot, m.height)
	left := max(e.Left, 0)
	right := min(e.Right, m.width)
	if top >= bot || left >= right || e.Rows == 0 {
		return
	}

	copyRow := func(dst, src int) {
		copy(m.cells[dst][left:right], m.cells[src][left:right])
	}
	if e.Rows > 0 {
		for r := top; r+e.Rows < bot; r++ {
			copyRow(r, r+e.Rows)
		}
		return
	}
	for r := bot - 1; r+e.Rows >= top; r-- {
		copyRow(r, r+e.Rows)
	}
}

// snapshot copies the working state. Callers hold m.mu.
func (m *Model) snapshot() Snapshot {
	cells := make([][]Cell, len(m.cells))
	for r, row := range m.cells {
		cells[r] = append([]Cell(nil), row...)
	}
	wild := m.wildmenu
	wild.Items = append([]string(nil), m.wildmenu.Items...)

	return Snapshot{
		Frame:      m.frame,
		Width:      m.width,
		Height:     m.height,
		Cells:      cells,
		Cursor:     m.cursor,
		Mode:       m.mode,
		Highlights: maps.Clone(m.highlights),
		Default:    m.defaults,
		Cmdline:    m.cmdline,
		Wildmenu:   wild,
		Title:      m.title,
		Busy:       m.busy,
	}
}

package screen

import (
	"errors"
	"fmt"

	"github.com/dshills/nvbridge/internal/rpc"
)

// ErrMalformedEvent indicates a redraw event whose arguments do not match
// the linegrid protocol.
var ErrMalformedEvent = errors.New("malformed redraw event")

// EventError describes one redraw event that could not be decoded.
type EventError struct {
	Name string
	Err  error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("redraw %s: %v", e.Name, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// Event is one typed redraw sub-event.
type Event interface {
	EventName() string
}

// Batch is the ordered list of events carried by one redraw notification.
type Batch []Event

type (
	// HLAttrDefine adds an entry to the highlight table.
	HLAttrDefine struct {
		ID   int
		Attr Highlight
	}

	// DefaultColorsSet sets the colors used by highlight id 0.
	DefaultColorsSet struct {
		Foreground, Background, Special int
	}

	GridResize struct {
		Grid, Width, Height int
	}

	GridClear struct {
		Grid int
	}

	GridCursorGoto struct {
		Grid, Row, Col int
	}

	// GridLine writes cells into one row starting at ColStart. Every cell
	// carries an explicit highlight id; omitted ids are resolved while decoding.
	GridLine struct {
		Grid, Row, ColStart int
		Cells               []LineCell
	}

	// GridScroll moves the region [Top, Bot) x [Left, Right) up by Rows
	// (down when negative).
	GridScroll struct {
		Grid, Top, Bot, Left, Right, Rows, Cols int
	}

	ModeInfoSet struct {
		CursorStyleEnabled bool
		Modes              []ModeInfo
	}

	ModeChange struct {
		Name  string
		Index int
	}

	BusyStart struct{}
	BusyStop  struct{}

	CmdlineShow struct {
		Content   string
		Pos       int
		FirstChar string
		Prompt    string
		Indent    int
		Level     int
	}

	CmdlinePos struct {
		Pos, Level int
	}

	CmdlineHide struct {
		Level int
	}

	WildmenuShow struct {
		Items []string
	}

	WildmenuSelect struct {
		Selected int
	}

	WildmenuHide struct{}

	SetTitle struct {
		Title string
	}

	// Flush marks the end of a consistent frame.
	Flush struct{}

	// Unknown is any event this model does not interpret.
	Unknown struct {
		Name string
		Args []any
	}
)

// LineCell is a run of identical cells in a grid_line event.
type LineCell struct {
	Text   string
	HL     int
	Repeat int
}

// ModeInfo is one entry of the mode_info_set table.
type ModeInfo struct {
	Name      string
	ShortName string
}

func (HLAttrDefine) EventName() string     { return "hl_attr_define" }
func (DefaultColorsSet) EventName() string { return "default_colors_set" }
func (GridResize) EventName() string       { return "grid_resize" }
func (GridClear) EventName() string        { return "grid_clear" }
func (GridCursorGoto) EventName() string   { return "grid_cursor_goto" }
func (GridLine) EventName() string         { return "grid_line" }
func (GridScroll) EventName() string       { return "grid_scroll" }
func (ModeInfoSet) EventName() string      { return "mode_info_set" }
func (ModeChange) EventName() string       { return "mode_change" }
func (BusyStart) EventName() string        { return "busy_start" }
func (BusyStop) EventName() string         { return "busy_stop" }
func (CmdlineShow) EventName() string      { return "cmdline_show" }
func (CmdlinePos) EventName() string       { return "cmdline_pos" }
func (CmdlineHide) EventName() string      { return "cmdline_hide" }
func (WildmenuShow) EventName() string     { return "wildmenu_show" }
func (WildmenuSelect) EventName() string   { return "wildmenu_select" }
func (WildmenuHide) EventName() string     { return "wildmenu_hide" }
func (SetTitle) EventName() string         { return "set_title" }
func (Flush) EventName() string            { return "flush" }
func (u Unknown) EventName() string        { return u.Name }

type decodeFunc func(args []any) (Event, error)

var decoders = map[string]decodeFunc{
	"hl_attr_define":     decodeHLAttrDefine,
	"default_colors_set": decodeDefaultColors,
	"grid_resize":        decodeGridResize,
	"grid_clear":         decodeGridClear,
	"grid_cursor_goto":   decodeCursorGoto,
	"grid_line":          decodeGridLine,
	"grid_scroll":        decodeGridScroll,
	"mode_info_set":      decodeModeInfoSet,
	"mode_change":        decodeModeChange,
	"busy_start":         func([]any) (Event, error) { return BusyStart{}, nil },
	"busy_stop":          func([]any) (Event, error) { return BusyStop{}, nil },
	"cmdline_show":       decodeCmdlineShow,
	"cmdline_pos":        decodeCmdlinePos,
	"cmdline_hide":       decodeCmdlineHide,
	"wildmenu_show":      decodeWildmenuShow,
	"wildmenu_select":    decodeWildmenuSelect,
	"wildmenu_hide":      func([]any) (Event, error) { return WildmenuHide{}, nil },
	"set_title":          decodeSetTitle,
	"flush":              func([]any) (Event, error) { return Flush{}, nil },
}

// Decode converts the params of a redraw notification into a batch. Each
// param is [name, args...] where every args entry is one invocation.
//
// Events that fail to decode are left out of the batch and reported in the
// returned error; the remaining events are still returned in order.
func Decode(params []any) (Batch, error) {
	batch := make(Batch, 0, len(params))
	var errs []error

	for _, p := range params {
		group, ok := rpc.AsSlice(p)
		if !ok || len(group) == 0 {
			errs = append(errs, &EventError{Name: "?", Err: ErrMalformedEvent})
			continue
		}
		name, ok := rpc.AsString(group[0])
		if !ok {
			errs = append(errs, &EventError{Name: "?", Err: ErrMalformedEvent})
			continue
		}

		decode, known := decoders[name]
		for _, inv := range group[1:] {
			args, ok := rpc.AsSlice(inv)
			if !ok {
				errs = append(errs, &EventError{Name: name, Err: ErrMalformedEvent})
				continue
			}
			if !known {
				batch = append(batch, Unknown{Name: name, Args: args})
				continue
			}
			ev, err := decode(args)
			if err != nil {
				errs = append(errs, &EventError{Name: name, Err: err})
				continue
			}
			batch = append(batch, ev)
		}
		// Some events (flush, busy_start) may arrive without an invocation.
		if len(group) == 1 {
			if known {
				if ev, err := decode(nil); err == nil {
					batch = append(batch, ev)
				}
			} else {
				batch = append(batch, Unknown{Name: name})
			}
		}
	}

	return batch, errors.Join(errs...)
}

// ints extracts the first n integer arguments.
func ints(args []any, n int) ([]int, error) {
	if len(args) < n {
		return nil, fmt.Errorf("%w: want %d args, got %d", ErrMalformedEvent, n, len(args))
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, ok := rpc.AsInt(args[i])
		if !ok {
			return nil, fmt.Errorf("%w: arg %d is %T", ErrMalformedEvent, i, args[i])
		}
		out[i] = v
	}
	return out, nil
}

func decodeHLAttrDefine(args []any) (Event, error) {
	if len(args) < 2 {
		return nil, ErrMalformedEvent
	}
	id, ok := rpc.AsInt(args[0])
	if !ok {
		return nil, ErrMalformedEvent
	}
	attrs, ok := rpc.AsMap(args[1])
	if !ok {
		return nil, ErrMalformedEvent
	}

	hl := DefaultHighlight
	if v, ok := rpc.AsInt(attrs["foreground"]); ok {
		hl.Foreground = ColorFromRGB(v)
	}
	if v, ok := rpc.AsInt(attrs["background"]); ok {
		hl.Background = ColorFromRGB(v)
	}
	if v, ok := rpc.AsInt(attrs["special"]); ok {
		hl.Special = ColorFromRGB(v)
	}
	flags := []struct {
		key  string
		attr Attribute
	}{
		{"bold", AttrBold},
		{"italic", AttrItalic},
		{"underline", AttrUnderline},
		{"undercurl", AttrUndercurl},
		{"reverse", AttrReverse},
		{"strikethrough", AttrStrikethrough},
	}
	for _, f := range flags {
		if b, _ := rpc.AsBool(attrs[f.key]); b {
			hl.Attrs |= f.attr
		}
	}
	return HLAttrDefine{ID: id, Attr: hl}, nil
}

func decodeDefaultColors(args []any) (Event, error) {
	v, err := ints(args, 3)
	if err != nil {
		return nil, err
	}
	return DefaultColorsSet{Foreground: v[0], Background: v[1], Special: v[2]}, nil
}

func decodeGridResize(args []any) (Event, error) {
	v, err := ints(args, 3)
	if err != nil {
		return nil, err
	}
	if v[1] < 0 || v[2] < 0 {
		return nil, fmt.Errorf("%w: negative size %dx%d", ErrMalformedEvent, v[1], v[2])
	}
	return GridResize{Grid: v[0], Width: v[1], Height: v[2]}, nil
}

func decodeGridClear(args []any) (Event, error) {
	v, err := ints(args, 1)
	if err != nil {
		return nil, err
	}
	return GridClear{Grid: v[0]}, nil
}

func decodeCursorGoto(args []any) (Event, error) {
	v, err := ints(args, 3)
	if err != nil {
		return nil, err
	}
	return GridCursorGoto{Grid: v[0], Row: v[1], Col: v[2]}, nil
}

func decodeGridLine(args []any) (Event, error) {
	v, err := ints(args, 3)
	if err != nil {
		return nil, err
	}
	if len(args) < 4 {
		return nil, ErrMalformedEvent
	}
	raw, ok := rpc.AsSlice(args[3])
	if !ok {
		return nil, ErrMalformedEvent
	}

	ev := GridLine{Grid: v[0], Row: v[1], ColStart: v[2], Cells: make([]LineCell, 0, len(raw))}
	hl := 0
	for _, c := range raw {
		cell, ok := rpc.AsSlice(c)
		if !ok || len(cell) == 0 {
			return nil, ErrMalformedEvent
		}
		text, ok := rpc.AsString(cell[0])
		if !ok {
			return nil, ErrMalformedEvent
		}
		// An omitted highlight id repeats the previous cell's id.
		if len(cell) > 1 {
			if id, ok := rpc.AsInt(cell[1]); ok {
				hl = id
			}
		}
		repeat := 1
		if len(cell) > 2 {
			if n, ok := rpc.AsInt(cell[2]); ok && n >= 0 {
				repeat = n
			}
		}
		ev.Cells = append(ev.Cells, LineCell{Text: text, HL: hl, Repeat: repeat})
	}
	return ev, nil
}

func decodeGridScroll(args []any) (Event, error) {
	v, err := ints(args, 7)
	if err != nil {
		return nil, err
	}
	return GridScroll{Grid: v[0], Top: v[1], Bot: v[2], Left: v[3], Right: v[4], Rows: v[5], Cols: v[6]}, nil
}

func decodeModeInfoSet(args []any) (Event, error) {
	if len(args) < 2 {
		return nil, ErrMalformedEvent
	}
	enabled, _ := rpc.AsBool(args[0])
	list, ok := rpc.AsSlice(args[1])
	if !ok {
		return nil, ErrMalformedEvent
	}
	ev := ModeInfoSet{CursorStyleEnabled: enabled}
	for _, item := range list {
		m, ok := rpc.AsMap(item)
		if !ok {
			continue
		}
		name, _ := rpc.AsString(m["name"])
		short, _ := rpc.AsString(m["short_name"])
		ev.Modes = append(ev.Modes, ModeInfo{Name: name, ShortName: short})
	}
	return ev, nil
}

func decodeModeChange(args []any) (Event, error) {
	if len(args) < 1 {
		return nil, ErrMalformedEvent
	}
	name, ok := rpc.AsString(args[0])
	if !ok {
		return nil, ErrMalformedEvent
	}
	ev := ModeChange{Name: name, Index: -1}
	if len(args) > 1 {
		if idx, ok := rpc.AsInt(args[1]); ok {
			ev.Index = idx
		}
	}
	return ev, nil
}

func decodeCmdlineShow(args []any) (Event, error) {
	if len(args) < 6 {
		return nil, ErrMalformedEvent
	}
	chunks, ok := rpc.AsSlice(args[0])
	if !ok {
		return nil, ErrMalformedEvent
	}
	var ev CmdlineShow
	for _, c := range chunks {
		// Each chunk is [attrs, text].
		chunk, ok := rpc.AsSlice(c)
		if !ok || len(chunk) < 2 {
			continue
		}
		text, _ := rpc.AsString(chunk[1])
		ev.Content += text
	}
	ev.Pos, _ = rpc.AsInt(args[1])
	ev.FirstChar, _ = rpc.AsString(args[2])
	ev.Prompt, _ = rpc.AsString(args[3])
	ev.Indent, _ = rpc.AsInt(args[4])
	ev.Level, _ = rpc.AsInt(args[5])
	return ev, nil
}

func decodeCmdlinePos(args []any) (Event, error) {
	v, err := ints(args, 2)
	if err != nil {
		return nil, err
	}
	return CmdlinePos{Pos: v[0], Level: v[1]}, nil
}

func decodeCmdlineHide(args []any) (Event, error) {
	ev := CmdlineHide{}
	if len(args) > 0 {
		ev.Level, _ = rpc.AsInt(args[0])
	}
	return ev, nil
}

func decodeWildmenuShow(args []any) (Event, error) {
	if len(args) < 1 {
		return nil, ErrMalformedEvent
	}
	items, ok := rpc.AsStrings(args[0])
	if !ok {
		return nil, ErrMalformedEvent
	}
	return WildmenuShow{Items: items}, nil
}

func decodeWildmenuSelect(args []any) (Event, error) {
	v, err := ints(args, 1)
	if err != nil {
		return nil, err
	}
	return WildmenuSelect{Selected: v[0]}, nil
}

func decodeSetTitle(args []any) (Event, error) {
	if len(args) < 1 {
		return nil, ErrMalformedEvent
	}
	title, ok := rpc.AsString(args[0])
	if !ok {
		return nil, ErrMalformedEvent
	}
	return SetTitle{Title: title}, nil
}

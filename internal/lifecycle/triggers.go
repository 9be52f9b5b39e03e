package lifecycle

import (
	"context"
	"fmt"

	"github.com/dshills/nvbridge/internal/rpc"
)

// Lifecycle request methods.
const (
	MethodWriteBuf      = "writeBuf"
	MethodCloseBuf      = "closeBuf"
	MethodEnterBuf      = "enterBuf"
	MethodNewTabEntered = "newTabEntered"
)

// Trigger binds an engine autocmd event to the request it sends.
type Trigger struct {
	Event  string
	Method string
}

// Triggers is the fixed autocmd table installed at startup.
var Triggers = []Trigger{
	{Event: "BufWriteCmd", Method: MethodWriteBuf},
	{Event: "QuitPre", Method: MethodCloseBuf},
	{Event: "BufEnter", Method: MethodEnterBuf},
	{Event: "TabNewEntered", Method: MethodNewTabEntered},
}

// Command returns the autocmd definition that makes the engine call back
// on channel with the buffer number, absolute path and raw path.
func (t Trigger) Command(channel int) string {
	return fmt.Sprintf(
		`autocmd %s * :call rpcrequest(%d, "%s", expand("<abuf>"), fnamemodify(expand('<afile>'), ':p'), expand("<afile>"))`,
		t.Event, channel, t.Method)
}

// Caller issues engine requests. *rpc.Transport implements it.
type Caller interface {
	Call(ctx context.Context, method string, result any, args ...any) error
}

// Install clears existing autocmds and installs every trigger. The channel
// is the id reported by nvim_get_api_info.
func Install(ctx context.Context, engine Caller, channel int) error {
	if err := engine.Call(ctx, "nvim_command", nil, "autocmd!"); err != nil {
		return fmt.Errorf("clear autocmds: %w", err)
	}
	for _, t := range Triggers {
		if err := engine.Call(ctx, "nvim_command", nil, t.Command(channel)); err != nil {
			return fmt.Errorf("install %s autocmd: %w", t.Event, err)
		}
	}
	return nil
}

// Context is the payload every lifecycle request carries.
type Context struct {
	Buffer  int
	AbsPath string
	RawPath string
}

// ParseContext decodes [buffer, absolute path, raw path]. The buffer number
// arrives as a string because it comes from expand().
func ParseContext(args []any) (Context, error) {
	if len(args) < 3 {
		return Context{}, fmt.Errorf("%w: want 3 args, got %d", ErrBadContext, len(args))
	}
	buf, ok := rpc.AsInt(args[0])
	if !ok {
		return Context{}, fmt.Errorf("%w: buffer %v", ErrBadContext, args[0])
	}
	abs, ok1 := rpc.AsString(args[1])
	raw, ok2 := rpc.AsString(args[2])
	if !ok1 || !ok2 {
		return Context{}, fmt.Errorf("%w: paths must be strings", ErrBadContext)
	}
	return Context{Buffer: buf, AbsPath: abs, RawPath: raw}, nil
}

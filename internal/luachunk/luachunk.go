// Package luachunk validates Lua source locally before it is shipped to the
// engine with nvim_exec_lua, so a syntax error surfaces at startup with a
// precise location instead of as a remote error on first use.
package luachunk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// ErrEmptyChunk is returned for blank source.
var ErrEmptyChunk = errors.New("empty lua chunk")

// SyntaxError reports a chunk that does not compile.
type SyntaxError struct {
	Name string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("lua chunk %s: %v", e.Name, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Caller issues engine requests. *rpc.Transport implements it.
type Caller interface {
	Call(ctx context.Context, method string, result any, args ...any) error
}

// Chunk is Lua source that compiled cleanly.
type Chunk struct {
	Name   string
	Source string
}

// Compile parses and compiles src. The engine runs LuaJIT, which accepts
// the Lua 5.1 grammar gopher-lua implements.
func Compile(name, src string) (*Chunk, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Name: name, Err: ErrEmptyChunk}
	}
	stmts, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	if _, err := lua.Compile(stmts, name); err != nil {
		return nil, &SyntaxError{Name: name, Err: err}
	}
	return &Chunk{Name: name, Source: src}, nil
}

// MustCompile is like Compile but panics on error. It is meant for chunks
// embedded in the binary.
func MustCompile(name, src string) *Chunk {
	c, err := Compile(name, src)
	if err != nil {
		panic(err)
	}
	return c
}

// Exec runs the chunk in the engine. Inside the chunk, args are available
// as "...". The chunk's return value is stored in result, which may be nil.
func (c *Chunk) Exec(ctx context.Context, caller Caller, result any, args ...any) error {
	if args == nil {
		args = []any{}
	}
	if err := caller.Call(ctx, "nvim_exec_lua", result, c.Source, args); err != nil {
		return fmt.Errorf("exec lua chunk %s: %w", c.Name, err)
	}
	return nil
}

// CopyTextHelper defines the global function the bridge calls to replace
// the current buffer with host text as a single undo step and place the
// cursor. Arguments: lines, 1-based line, 0-based byte column.
var CopyTextHelper = MustCompile("copy_text_helper", `
function _G._nvbridge_copy_text(lines, line, col)
  pcall(vim.cmd, 'undojoin')
  vim.api.nvim_buf_set_lines(0, 0, -1, true, lines)
  pcall(vim.api.nvim_win_set_cursor, 0, {line, col})
end
`)

// CopyTextCall invokes the helper installed by CopyTextHelper.
var CopyTextCall = MustCompile("copy_text_call", `
local lines, line, col = ...
_nvbridge_copy_text(lines, line, col)
`)

// EditCall makes the current window edit a file. Argument: path.
var EditCall = MustCompile("edit_call", `
local path = ...
vim.cmd('edit ' .. vim.fn.fnameescape(path))
`)

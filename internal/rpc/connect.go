package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Target describes how to reach the engine.
type Target struct {
	// Command is the engine executable used by Spawn.
	Command string

	// Args are extra arguments passed before "--embed".
	Args []string

	// Files are opened by the engine at startup.
	Files []string

	// Dir is the working directory of the spawned engine.
	Dir string

	// Address is a unix socket path or host:port used by Dial.
	Address string
}

// String returns a label for diagnostics.
func (t Target) String() string {
	if t.Address != "" {
		return t.Address
	}
	return t.Command
}

// Network returns "unix" for socket paths and "tcp" otherwise.
func (t Target) Network() string {
	if strings.Contains(t.Address, "/") || !strings.Contains(t.Address, ":") {
		return "unix"
	}
	return "tcp"
}

// IsSocket reports whether path names an existing unix socket.
func IsSocket(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSocket != 0
}

// Connect dials target.Address when it is set and spawns target.Command
// otherwise.
func Connect(ctx context.Context, target Target, opts ...Option) (*Transport, error) {
	if target.Address != "" {
		return Dial(ctx, target, opts...)
	}
	return Spawn(ctx, target, opts...)
}

// Spawn starts the engine as a child process speaking msgpack-rpc on its
// stdio. The process is killed when the transport is closed.
func Spawn(ctx context.Context, target Target, opts ...Option) (*Transport, error) {
	if target.Command == "" {
		return nil, &ConnectionError{Op: "spawn", Err: errors.New("no engine command configured")}
	}

	args := append([]string{}, target.Args...)
	args = append(args, "--embed")
	args = append(args, target.Files...)

	cmd := exec.CommandContext(ctx, target.Command, args...)
	cmd.Dir = target.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ConnectionError{Op: "spawn", Target: target.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &ConnectionError{Op: "spawn", Target: target.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &ConnectionError{Op: "spawn", Target: target.Command, Err: err}
	}

	pc := &processCloser{cmd: cmd, stdin: stdin}
	opts = append([]Option{WithTarget(target.Command)}, opts...)
	t := NewTransport(stdout, stdin, pc, opts...)
	t.Start()
	return t, nil
}

// Dial connects to an engine listening on a socket.
func Dial(ctx context.Context, target Target, opts ...Option) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, target.Network(), target.Address)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Target: target.Address, Err: err}
	}
	opts = append([]Option{WithTarget(target.Address)}, opts...)
	t := NewTransport(conn, conn, conn, opts...)
	t.Start()
	return t, nil
}

// processCloser closes the engine's stdin and reaps the process.
type processCloser struct {
	cmd   *exec.Cmd
	stdin io.Closer
	once  sync.Once
	err   error
}

func (p *processCloser) Close() error {
	p.once.Do(func() {
		p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if err := p.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				p.err = err
			}
		}
	})
	return p.err
}

// Package bridge runs one session with an embedded engine. A Session owns
// the transport, screen model, request router, key pipeline, change tracker
// and lifecycle handlers, and keeps the host workspace and the engine
// buffers in step.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/dshills/nvbridge/internal/config"
	"github.com/dshills/nvbridge/internal/host"
	"github.com/dshills/nvbridge/internal/keyqueue"
	"github.com/dshills/nvbridge/internal/lifecycle"
	"github.com/dshills/nvbridge/internal/logx"
	"github.com/dshills/nvbridge/internal/luachunk"
	"github.com/dshills/nvbridge/internal/router"
	"github.com/dshills/nvbridge/internal/rpc"
	"github.com/dshills/nvbridge/internal/screen"
	"github.com/dshills/nvbridge/internal/tracker"
)

// Notification methods handled by every session.
const (
	MethodRedraw     = "redraw"
	MethodErrorEvent = "nvim_error_event"
)

// keyTaskCalls is the most engine round trips a key forward makes: input,
// mode, changedtick, lines and cursor.
const keyTaskCalls = 5

// EngineMode is the engine state reported by nvim_get_mode.
type EngineMode struct {
	// Code is the short mode name, e.g. "n", "i", "no", "c".
	Code     string
	Blocking bool
}

// Options configures a Session.
type Options struct {
	// Transport is a started connection to the engine.
	Transport *rpc.Transport
	Workspace host.Workspace
	Tabs      host.Tabs
	Notifier  host.Notifier
	Config    config.Config
	Logger    pslog.Logger
}

// Session is one bridge between the host and an engine process.
type Session struct {
	id        string
	cfg       config.Config
	transport *rpc.Transport
	workspace host.Workspace
	notifier  host.Notifier

	screen    *screen.Model
	router    *router.Router
	pipeline  *keyqueue.Pipeline
	tracker   *tracker.Tracker
	lifecycle *lifecycle.Bridge

	// reconcile serializes document reconciliation between lifecycle
	// handlers and pipeline tasks.
	reconcile sync.Mutex

	logger pslog.Logger

	mu          sync.Mutex
	mode        EngineMode
	channel     int
	luaInit     string
	unsubscribe []func()

	ignore atomic.Pointer[map[string]struct{}]

	ctx          context.Context
	cancel       context.CancelFunc
	started      atomic.Bool
	closing      atomic.Bool
	disconnected atomic.Bool
	wg           sync.WaitGroup
}

// New creates a session. Call Start to perform the handshake.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("bridge: transport is required")
	}
	if opts.Workspace == nil {
		return nil, errors.New("bridge: workspace is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	// Validate has already checked the timeout.
	timeout, _ := opts.Config.RPC.Timeout()

	base := opts.Logger
	if base == nil {
		base = pslog.Ctx(context.Background())
	}
	id := uuid.NewString()
	logger := logx.WithSession(base, id)

	s := &Session{
		id:        id,
		cfg:       opts.Config,
		transport: opts.Transport,
		workspace: opts.Workspace,
		notifier:  opts.Notifier,
		screen:    screen.NewModel(opts.Config.UI.Width, opts.Config.UI.Height),
		pipeline:  keyqueue.New(keyqueue.WithLogger(logger), keyqueue.WithTaskTimeout(taskTimeout(timeout))),
		tracker:   tracker.New(),
		logger:    logger,
		luaInit:   opts.Config.Lua.Init,
	}
	s.setIgnored(opts.Config.Input.IgnoreKeys)
	s.lifecycle = lifecycle.New(lifecycle.Options{
		Engine:    s.transport,
		Workspace: s.workspace,
		Tabs:      opts.Tabs,
		Tracker:   s.tracker,
		Lock:      &s.reconcile,
		Logger:    logger,
	})

	builder := router.NewBuilder()
	s.lifecycle.Register(builder)
	builder.
		HandleNotification(MethodRedraw, s.onRedraw).
		HandleNotification(MethodErrorEvent, s.onErrorEvent)
	r, err := builder.Build(logger)
	if err != nil {
		s.pipeline.Close(err)
		return nil, err
	}
	s.router = r

	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(context.Background(), logger))
	return s, nil
}

// taskTimeout bounds one key task. A task makes several engine calls, each
// bounded by the call timeout, so it gets room for all of them. Zero disables
// both.
func taskTimeout(callTimeout time.Duration) time.Duration {
	return keyTaskCalls * callTimeout
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Channel returns the channel id the engine assigned to this client.
func (s *Session) Channel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Screen returns the screen model fed by redraw notifications.
func (s *Session) Screen() *screen.Model {
	return s.screen
}

// Mode returns the engine mode observed after the last forwarded key.
func (s *Session) Mode() EngineMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Done is closed when the engine connection terminates.
func (s *Session) Done() <-chan struct{} {
	return s.transport.Done()
}

// Err returns why the connection terminated, or nil while it is live.
func (s *Session) Err() error {
	return s.transport.Err()
}

func (s *Session) log() pslog.Logger {
	return s.logger
}

// Start runs the inbound loop, performs the attach handshake, subscribes to
// host changes and loads the active host document into the engine.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.wg.Add(2)
	go s.loop()
	go s.watch()

	if err := s.handshake(ctx); err != nil {
		return err
	}
	s.subscribe()

	if doc := s.workspace.Active(); doc != nil {
		t, err := s.pipeline.Enqueue(func(ctx context.Context) error {
			return s.activate(ctx, doc)
		})
		if err != nil {
			return &HandshakeError{Step: "load active document", Err: err}
		}
		if err := t.Wait(ctx); err != nil {
			return &HandshakeError{Step: "load active document", Err: err}
		}
	}
	s.log().Info("session started", "channel", s.Channel(), "width", s.cfg.UI.Width, "height", s.cfg.UI.Height)
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	var info any
	if err := s.transport.Call(ctx, "nvim_get_api_info", &info); err != nil {
		return &HandshakeError{Step: "api info", Err: err}
	}
	parts, ok := rpc.AsSlice(info)
	if !ok || len(parts) == 0 {
		return &HandshakeError{Step: "api info", Err: rpc.ErrMalformedMessage}
	}
	channel, ok := rpc.AsInt(parts[0])
	if !ok {
		return &HandshakeError{Step: "api info", Err: rpc.ErrMalformedMessage}
	}
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	attach := map[string]any{
		"rgb":          true,
		"ext_linegrid": true,
		"ext_cmdline":  s.cfg.UI.ExtCmdline,
		"ext_wildmenu": s.cfg.UI.ExtWildmenu,
	}
	if err := s.transport.Call(ctx, "nvim_ui_attach", nil, s.cfg.UI.Width, s.cfg.UI.Height, attach); err != nil {
		return &HandshakeError{Step: "ui attach", Err: err}
	}
	if err := luachunk.CopyTextHelper.Exec(ctx, s.transport, nil); err != nil {
		return &HandshakeError{Step: "lua helper", Err: err}
	}
	if err := lifecycle.Install(ctx, s.transport, channel); err != nil {
		return &HandshakeError{Step: "autocmds", Err: err}
	}
	if err := s.transport.Call(ctx, "nvim_command", nil, "set noswapfile hidden"); err != nil {
		return &HandshakeError{Step: "options", Err: err}
	}
	if strings.TrimSpace(s.cfg.Lua.Init) != "" {
		chunk, err := luachunk.Compile("lua.init", s.cfg.Lua.Init)
		if err != nil {
			return &HandshakeError{Step: "lua init", Err: err}
		}
		if err := chunk.Exec(ctx, s.transport, nil); err != nil {
			return &HandshakeError{Step: "lua init", Err: err}
		}
	}
	return nil
}

// loop consumes inbound traffic in arrival order. Redraw batches are
// applied inline; requests are handed to their handler goroutines.
func (s *Session) loop() {
	defer s.wg.Done()
	for msg := range s.transport.Inbound() {
		// Unknown methods are logged by the router and left unanswered.
		_ = s.router.Dispatch(s.ctx, msg)
	}
}

func (s *Session) watch() {
	defer s.wg.Done()
	<-s.transport.Done()
	if s.closing.Load() {
		return
	}
	s.disconnect(s.transport.Err())
}

func (s *Session) disconnect(err error) {
	if err == nil {
		err = ErrDisconnected
	}
	s.disconnected.Store(true)
	s.pipeline.Close(err)
	s.log().With("err", err).Error("engine connection lost")
	if s.notifier != nil {
		s.notifier.ShowError("Neovim connection lost: " + err.Error())
	}
}

func (s *Session) onRedraw(_ context.Context, args []any) {
	batch, err := screen.Decode(args)
	if err != nil {
		s.log().With("err", err).Debug("redraw events skipped")
	}
	s.screen.Apply(batch)
}

func (s *Session) onErrorEvent(_ context.Context, args []any) {
	msg := "engine error"
	if len(args) > 1 {
		if text, ok := rpc.AsString(args[1]); ok {
			msg = text
		}
	}
	s.log().Warn("engine error event", "message", msg)
	if s.notifier != nil {
		s.notifier.ShowError(msg)
	}
}

// SendKey queues token for the engine. Tokens are forwarded strictly in
// call order, one at a time. The returned ticket completes once the
// engine has taken the key and the host document has been reconciled.
func (s *Session) SendKey(token host.Token) (*keyqueue.Ticket, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	if s.disconnected.Load() || s.transport.IsClosed() {
		return nil, ErrDisconnected
	}
	if s.ignored(token.Text) {
		return nil, ErrIgnoredKey
	}
	t, err := s.pipeline.Enqueue(func(ctx context.Context) error {
		return s.forward(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return t, nil
}

func (s *Session) forward(ctx context.Context, token host.Token) error {
	if err := s.transport.Call(ctx, "nvim_input", nil, token.Input()); err != nil {
		return fmt.Errorf("forward key %q: %w", token.Text, err)
	}
	mode, err := s.refreshMode(ctx)
	if err != nil {
		return err
	}
	// A prompt or command line owns the keys; buffer state is not final.
	if mode.Blocking || s.screen.Snapshot().Mode.Blocking {
		return nil
	}

	doc := s.workspace.Active()
	if doc == nil {
		return nil
	}
	backed, err := s.lifecycle.PullCurrent(ctx, doc)
	if err != nil {
		var conflict *lifecycle.ReconciliationConflict
		if errors.As(err, &conflict) {
			s.log().With("err", err).Warn("pull dropped")
			return nil
		}
		return err
	}
	// The engine is in a buffer the active document does not back.
	if !backed {
		return nil
	}
	return s.mirrorCursor(ctx, doc)
}

func (s *Session) refreshMode(ctx context.Context) (EngineMode, error) {
	var raw any
	if err := s.transport.Call(ctx, "nvim_get_mode", &raw); err != nil {
		return EngineMode{}, fmt.Errorf("read mode: %w", err)
	}
	m, _ := rpc.AsMap(raw)
	var mode EngineMode
	mode.Code, _ = rpc.AsString(m["mode"])
	mode.Blocking, _ = rpc.AsBool(m["blocking"])

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return mode, nil
}

// mirrorCursor copies the engine cursor into the host selection.
func (s *Session) mirrorCursor(ctx context.Context, doc host.Document) error {
	var raw any
	if err := s.transport.Call(ctx, "nvim_win_get_cursor", &raw, 0); err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	pos, ok := rpc.AsSlice(raw)
	if !ok || len(pos) < 2 {
		return fmt.Errorf("read cursor: %w", rpc.ErrMalformedMessage)
	}
	row, _ := rpc.AsInt(pos[0])
	col, _ := rpc.AsInt(pos[1])
	if row < 1 {
		row = 1
	}
	doc.SetSelection(host.Cursor(host.Position{Line: row - 1, Col: col}, host.SelectionCommand))
	return nil
}

// Reload applies the live-reloadable settings of a changed configuration.
func (s *Session) Reload(r config.Reloadable) error {
	s.setIgnored(r.IgnoreKeys)

	s.mu.Lock()
	changed := r.LuaInit != s.luaInit
	s.luaInit = r.LuaInit
	s.mu.Unlock()
	if !changed || strings.TrimSpace(r.LuaInit) == "" {
		return nil
	}

	chunk, err := luachunk.Compile("lua.init", r.LuaInit)
	if err != nil {
		return err
	}
	s.enqueue("lua init", func(ctx context.Context) error {
		return chunk.Exec(ctx, s.transport, nil)
	})
	return nil
}

func (s *Session) setIgnored(keys []string) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	s.ignore.Store(&set)
}

func (s *Session) ignored(key string) bool {
	set := s.ignore.Load()
	if set == nil {
		return false
	}
	_, ok := (*set)[key]
	return ok
}

// Close detaches from the engine and stops every goroutine the session
// started. It does not notify the user.
func (s *Session) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	for _, fn := range unsubscribe {
		fn()
	}

	s.pipeline.Close(nil)
	err := s.transport.Close()
	s.cancel()
	s.wg.Wait()
	s.router.Wait()
	s.pipeline.Wait()
	return err
}

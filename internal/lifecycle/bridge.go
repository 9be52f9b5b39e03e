// Package lifecycle reacts to engine lifecycle events (buffer write, buffer
// enter, tab creation, quit) delivered as rpcrequest calls, and keeps the
// host document model consistent with the engine buffers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/pslog"

	"github.com/dshills/nvbridge/internal/host"
	"github.com/dshills/nvbridge/internal/logx"
	"github.com/dshills/nvbridge/internal/router"
	"github.com/dshills/nvbridge/internal/tracker"
)

// Options configures a Bridge.
type Options struct {
	Engine    Caller
	Workspace host.Workspace
	Tabs      host.Tabs
	Tracker   *tracker.Tracker

	// Lock serializes document reconciliation with the key pipeline. A
	// private mutex is used when nil.
	Lock sync.Locker

	Logger pslog.Logger
}

// Bridge implements the lifecycle request handlers.
type Bridge struct {
	engine    Caller
	workspace host.Workspace
	tabs      host.Tabs
	tracker   *tracker.Tracker
	lock      sync.Locker
	logger    pslog.Logger

	activatingMu sync.Mutex
	activating   string
	closing      bool
	held         map[string]int

	// current is the buffer the engine last entered.
	current engineBuffer
}

// engineBuffer identifies an engine buffer. An empty path is an unnamed
// buffer with no host document.
type engineBuffer struct {
	number int
	path   string
	known  bool
}

// New creates a lifecycle bridge.
func New(opts Options) *Bridge {
	b := &Bridge{
		engine:    opts.Engine,
		workspace: opts.Workspace,
		tabs:      opts.Tabs,
		tracker:   opts.Tracker,
		lock:      opts.Lock,
		logger:    opts.Logger,
		held:      make(map[string]int),
	}
	if b.lock == nil {
		b.lock = &sync.Mutex{}
	}
	if b.tracker == nil {
		b.tracker = tracker.New()
	}
	if b.logger == nil {
		b.logger = pslog.Ctx(context.Background())
	}
	return b
}

// Register adds a handler for every trigger in the table.
func (b *Bridge) Register(builder *router.Builder) {
	handlers := map[string]router.HandlerFunc{
		MethodWriteBuf:      b.WriteBuf,
		MethodCloseBuf:      b.CloseBuf,
		MethodEnterBuf:      b.EnterBuf,
		MethodNewTabEntered: b.NewTabEntered,
	}
	for _, t := range Triggers {
		builder.Handle(t.Method, handlers[t.Method])
	}
}

// Activating reports whether path is being made active by an engine event:
// the engine entered its buffer, or closed the buffer of the previously
// active document. Active-document listeners use it to avoid sending the
// activation back to the engine.
func (b *Bridge) Activating(path string) bool {
	b.activatingMu.Lock()
	defer b.activatingMu.Unlock()
	return b.closing || (path != "" && b.activating == path)
}

func (b *Bridge) setClosing(closing bool) {
	b.activatingMu.Lock()
	b.closing = closing
	b.activatingMu.Unlock()
}

func (b *Bridge) setActivating(path string) {
	b.activatingMu.Lock()
	b.activating = path
	b.activatingMu.Unlock()
}

// Hold makes EnterBuf skip the pull for path until release is called. It is
// used while the host pushes its own text into a buffer it asked the engine
// to edit.
func (b *Bridge) Hold(path string) (release func()) {
	b.activatingMu.Lock()
	b.held[path]++
	b.activatingMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.activatingMu.Lock()
			if b.held[path]--; b.held[path] <= 0 {
				delete(b.held, path)
			}
			b.activatingMu.Unlock()
		})
	}
}

func (b *Bridge) isHeld(path string) bool {
	b.activatingMu.Lock()
	defer b.activatingMu.Unlock()
	return b.held[path] > 0
}

// WriteBuf writes the engine buffer to disk on the engine's behalf, updates
// the host document and clears the engine's modified flag. Any failure is
// returned to the engine, which reports it like a failed :write.
func (b *Bridge) WriteBuf(ctx context.Context, args []any) (any, error) {
	lc, err := ParseContext(args)
	if err != nil {
		return nil, err
	}
	log := logx.WithBuffer(logx.WithMethod(b.logger, MethodWriteBuf), lc.Buffer, lc.AbsPath)
	if lc.AbsPath == "" {
		return nil, &WriteError{Path: lc.RawPath, Err: errors.New("no file name")}
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	tick, lines, err := b.fetch(ctx, lc.Buffer)
	if err != nil {
		return nil, err
	}
	if err := writeLines(lc.AbsPath, lines); err != nil {
		log.With("err", err).Warn("buffer write failed")
		return nil, &WriteError{Path: lc.AbsPath, Err: err}
	}

	if doc, ok := b.workspace.Lookup(lc.AbsPath); ok {
		if err := b.apply(doc, lines); err != nil {
			return nil, err
		}
		b.tracker.MarkPulled(tick)
		doc.SetModified(false)
	}

	cmd := fmt.Sprintf("call setbufvar(%d, '&modified', 0)", lc.Buffer)
	if err := b.engine.Call(ctx, "nvim_command", nil, cmd); err != nil {
		return nil, fmt.Errorf("clear modified flag: %w", err)
	}
	log.Info("buffer written", "lines", len(lines))
	return nil, nil
}

// CloseBuf releases the host document tied to the buffer's path.
func (b *Bridge) CloseBuf(ctx context.Context, args []any) (any, error) {
	lc, err := ParseContext(args)
	if err != nil {
		return nil, err
	}
	if lc.AbsPath == "" {
		return nil, nil
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	// The host picks the next active document itself; the engine already
	// shows whatever buffer it falls back to.
	b.setClosing(true)
	err = b.workspace.Close(lc.AbsPath)
	b.setClosing(false)
	if err != nil && !errors.Is(err, host.ErrDocumentNotFound) {
		return nil, err
	}
	logx.WithBuffer(b.logger, lc.Buffer, lc.AbsPath).Debug("document closed by engine")
	return nil, nil
}

// EnterBuf makes the host's active document match the engine buffer and
// pulls the buffer contents into it. Entering an unnamed buffer leaves the
// host alone but stops key pulls until a file buffer is entered again.
func (b *Bridge) EnterBuf(ctx context.Context, args []any) (any, error) {
	lc, err := ParseContext(args)
	if err != nil {
		return nil, err
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	// A different buffer is current now; its tick has no relation to the
	// previous one.
	b.tracker.Reset()

	// Unnamed buffers have no host document.
	if lc.AbsPath == "" || lc.RawPath == "" {
		b.setCurrent(engineBuffer{number: lc.Buffer, known: true})
		return nil, nil
	}
	b.setCurrent(engineBuffer{number: lc.Buffer, path: lc.AbsPath, known: true})

	b.setActivating(lc.AbsPath)
	doc, err := b.workspace.Open(lc.AbsPath)
	b.setActivating("")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", lc.AbsPath, err)
	}

	if b.isHeld(lc.AbsPath) {
		return nil, nil
	}
	if err := b.pull(ctx, doc, lc.Buffer); err != nil {
		var conflict *ReconciliationConflict
		if errors.As(err, &conflict) {
			logx.WithBuffer(b.logger, lc.Buffer, lc.AbsPath).With("err", err).Warn("pull dropped")
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}

// NewTabEntered mirrors a new engine tab page in the host.
func (b *Bridge) NewTabEntered(ctx context.Context, args []any) (any, error) {
	lc, err := ParseContext(args)
	if err != nil {
		return nil, err
	}
	if b.tabs == nil {
		return nil, nil
	}
	if err := b.tabs.NewTab(lc.AbsPath); err != nil {
		return nil, fmt.Errorf("new tab: %w", err)
	}
	return nil, nil
}

// PullBuffer copies the engine buffer into doc when the engine tick moved
// past the last revision the bridge produced. Buffer 0 is the current
// buffer. It returns *ReconciliationConflict when doc was edited on the
// host side during the pull.
func (b *Bridge) PullBuffer(ctx context.Context, doc host.Document, buffer int) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.pull(ctx, doc, buffer)
}

// PullCurrent pulls the engine's current buffer into doc and reports whether
// that buffer backs doc. Nothing is read when the engine last entered an
// unnamed buffer or another file's buffer. Until the first enterBuf the
// current buffer is assumed to back doc.
func (b *Bridge) PullCurrent(ctx context.Context, doc host.Document) (bool, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	buffer, ok := b.bufferFor(doc.Path())
	if !ok {
		return false, nil
	}
	return true, b.pull(ctx, doc, buffer)
}

// Backs reports whether the engine's current buffer holds the file at path,
// so host text for path may be written into it. It does not take the
// reconcile lock.
func (b *Bridge) Backs(path string) bool {
	_, ok := b.bufferFor(path)
	return ok
}

func (b *Bridge) setCurrent(buf engineBuffer) {
	b.activatingMu.Lock()
	b.current = buf
	b.activatingMu.Unlock()
}

// bufferFor returns the engine buffer number backing path; 0 means the
// current buffer.
func (b *Bridge) bufferFor(path string) (int, bool) {
	b.activatingMu.Lock()
	defer b.activatingMu.Unlock()
	if !b.current.known {
		return 0, true
	}
	if b.current.path == "" || b.current.path != path {
		return 0, false
	}
	return b.current.number, true
}

// pull implements PullBuffer. Callers hold b.lock.
func (b *Bridge) pull(ctx context.Context, doc host.Document, buffer int) error {
	version := doc.Version()

	var tick int
	if err := b.engine.Call(ctx, "nvim_buf_get_changedtick", &tick, buffer); err != nil {
		return fmt.Errorf("read changedtick: %w", err)
	}
	if !b.tracker.ShouldPull(tick) {
		return nil
	}

	var lines []string
	if err := b.engine.Call(ctx, "nvim_buf_get_lines", &lines, buffer, 0, -1, true); err != nil {
		return fmt.Errorf("read buffer lines: %w", err)
	}
	if actual := doc.Version(); actual != version {
		return &ReconciliationConflict{Path: doc.Path(), ExpectedVersion: version, ActualVersion: actual}
	}
	if err := b.apply(doc, lines); err != nil {
		return err
	}
	b.tracker.MarkPulled(tick)
	return nil
}

// fetch reads the tick and lines of buffer.
func (b *Bridge) fetch(ctx context.Context, buffer int) (int, []string, error) {
	var tick int
	if err := b.engine.Call(ctx, "nvim_buf_get_changedtick", &tick, buffer); err != nil {
		return 0, nil, fmt.Errorf("read changedtick: %w", err)
	}
	var lines []string
	if err := b.engine.Call(ctx, "nvim_buf_get_lines", &lines, buffer, 0, -1, true); err != nil {
		return 0, nil, fmt.Errorf("read buffer lines: %w", err)
	}
	return tick, lines, nil
}

// apply replaces the document text with lines. The change is announced to
// the tracker so the document listener does not send it back.
func (b *Bridge) apply(doc host.Document, lines []string) error {
	text := host.JoinLines(lines)
	if doc.Text() == text {
		return nil
	}
	b.tracker.ExpectEcho()
	if err := doc.SetText(host.FullRange(doc.Lines()), text); err != nil {
		b.tracker.CancelEcho()
		return fmt.Errorf("update host document: %w", err)
	}
	return nil
}

// Package watcher reloads the configuration file when it changes on disk.
//
// The file's directory is watched rather than the file itself so editors
// that replace the file by rename keep triggering reloads. Bursts of events
// are coalesced by a debounce timer before the file is reloaded.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/dshills/nvbridge/internal/config"
)

// DefaultDebounce is the quiet period before a reload.
const DefaultDebounce = 100 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Loader produces a configuration from disk.
type Loader interface {
	Load() (config.Config, error)
}

// ChangeFunc receives every successfully reloaded configuration.
type ChangeFunc func(cfg config.Config)

// ErrorFunc receives reload failures. The previous configuration stays in
// effect.
type ErrorFunc func(err error)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithErrorHandler sets the reload failure callback.
func WithErrorHandler(fn ErrorFunc) Option {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger pslog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher reloads one config file on change.
type Watcher struct {
	path     string
	loader   Loader
	onChange ChangeFunc
	onError  ErrorFunc
	debounce time.Duration
	logger   pslog.Logger

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New watches path and calls onChange with each reloaded configuration.
// The containing directory must exist.
func New(path string, loader Loader, onChange ChangeFunc, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		loader:   loader,
		onChange: onChange,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = pslog.Ctx(context.Background())
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Close stops watching. Pending reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.fail(err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	// A rename away from path leaves nothing to read until the new file
	// lands; the following create event schedules another reload.
	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		return
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.fail(err)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) fail(err error) {
	w.logger.With("err", err).Warn("configuration reload failed", "path", w.path)
	if w.onError != nil {
		w.onError(err)
	}
}

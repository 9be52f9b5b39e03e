package term

import (
	"context"
	"errors"

	"github.com/gdamore/tcell/v2"
	"pkt.systems/pslog"

	"github.com/dshills/nvbridge/internal/bridge"
	"github.com/dshills/nvbridge/internal/host"
	"github.com/dshills/nvbridge/internal/keyqueue"
	"github.com/dshills/nvbridge/internal/screen"
)

// KeySink receives translated keys.
type KeySink interface {
	SendKey(token host.Token) (*keyqueue.Ticket, error)
}

// UI owns a tcell screen: it forwards keys to a sink and repaints on every
// presented snapshot. All drawing happens on the goroutine running Run.
type UI struct {
	screen  tcell.Screen
	painter *Painter
	sink    KeySink
	logger  pslog.Logger

	last *screen.Snapshot
}

// NewUI creates a UI on an initialized screen.
func NewUI(s tcell.Screen, sink KeySink, logger pslog.Logger) *UI {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &UI{screen: s, painter: NewPainter(s), sink: sink, logger: logger}
}

// Present schedules snap for painting. It is safe to call from any
// goroutine, typically a screen.Model flush listener.
func (u *UI) Present(snap screen.Snapshot) {
	if err := u.screen.PostEvent(tcell.NewEventInterrupt(&snap)); err != nil {
		u.logger.Debug("frame dropped", "frame", snap.Frame)
	}
}

// Run processes terminal events until ctx ends or the sink reports that
// the engine is gone.
func (u *UI) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = u.screen.PostEvent(tcell.NewEventInterrupt(nil))
	})
	defer stop()

	for {
		ev := u.screen.PollEvent()
		if ev == nil {
			return nil
		}
		switch e := ev.(type) {
		case *tcell.EventInterrupt:
			if ctx.Err() != nil {
				return nil
			}
			if snap, ok := e.Data().(*screen.Snapshot); ok {
				u.last = snap
				u.painter.Paint(snap)
			}

		case *tcell.EventResize:
			u.screen.Sync()
			if u.last != nil {
				u.painter.Paint(u.last)
			}

		case *tcell.EventKey:
			token, ok := Translate(e)
			if !ok {
				continue
			}
			if _, err := u.sink.SendKey(token); err != nil {
				if errors.Is(err, bridge.ErrDisconnected) {
					return err
				}
				if !errors.Is(err, bridge.ErrIgnoredKey) {
					u.logger.With("err", err).Warn("key not sent", "key", token.Text)
				}
			}
		}
	}
}

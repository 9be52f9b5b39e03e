package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/dshills/nvbridge/internal/bridge"
	"github.com/dshills/nvbridge/internal/config"
	"github.com/dshills/nvbridge/internal/config/watcher"
	"github.com/dshills/nvbridge/internal/host"
	"github.com/dshills/nvbridge/internal/logx"
	"github.com/dshills/nvbridge/internal/rpc"
	"github.com/dshills/nvbridge/internal/term"
)

type runOptions struct {
	configPath string
}

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"nvim":      "engine.path",
	"socket":    "engine.socket",
	"clean":     "engine.clean",
	"width":     "ui.width",
	"height":    "ui.height",
	"log-level": "log.level",
	"log-file":  "log.file",
}

func newLoader(cmd *cobra.Command, opts runOptions) *config.Loader {
	loader := config.NewLoader(opts.configPath)
	for name, key := range flagKeys {
		loader.BindFlag(key, cmd.Flags().Lookup(name))
	}
	return loader
}

func runBridge(cmd *cobra.Command, opts runOptions, files []string) error {
	ctx := cmd.Context()
	loader := newLoader(cmd, opts)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file or nowhere.
	logOut := io.Discard
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	// Every component derives its logger from the switch, so a log.level
	// reload reaches all of them.
	logSwitch := logx.NewSwitch(logx.New(logOut, cfg.Log.Level, false))
	var logger pslog.Logger = logSwitch
	ctx = pslog.ContextWithLogger(ctx, logger)

	workspace := host.NewMemWorkspace()
	for _, path := range files {
		if _, err := workspace.Open(path); err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
	}
	messages := host.NewMessageLog(100)
	messages.OnNotify(func(m host.Message) {
		if m.Error {
			logger.Warn("engine message", "text", m.Text)
		} else {
			logger.Info("engine message", "text", m.Text)
		}
	})

	transport, err := connect(ctx, cfg, workspace.Paths(), logger)
	if err != nil {
		return err
	}

	sess, err := bridge.New(bridge.Options{
		Transport: transport,
		Workspace: workspace,
		Tabs:      &host.MemTabs{},
		Notifier:  messages,
		Config:    cfg,
		Logger:    logger,
	})
	if err != nil {
		_ = transport.Close()
		return err
	}
	defer sess.Close()

	scr, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create terminal: %w", err)
	}
	if err := scr.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer scr.Fini()

	ui := term.NewUI(scr, sess, logger)
	sess.Screen().OnFlush(ui.Present)

	if err := sess.Start(ctx); err != nil {
		return err
	}

	if path, err := loader.Path(); err == nil {
		w, err := watcher.New(path, loader, func(next config.Config) {
			logSwitch.Set(logx.New(logOut, next.Log.Level, false))
			if err := sess.Reload(next.Reloadable()); err != nil {
				logger.With("err", err).Warn("config reload rejected")
			}
		}, watcher.WithLogger(logger))
		if err != nil {
			logger.With("err", err).Warn("config reload disabled")
		} else {
			defer w.Close()
		}
	}

	uiCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-uiCtx.Done():
		}
	}()

	err = ui.Run(uiCtx)
	if err != nil && !errors.Is(err, bridge.ErrDisconnected) {
		return err
	}
	return exitError(sess)
}

// connect attaches to a running engine when the configured socket exists and
// spawns one otherwise.
func connect(ctx context.Context, cfg config.Config, files []string, logger pslog.Logger) (*rpc.Transport, error) {
	timeout, err := cfg.RPC.Timeout()
	if err != nil {
		return nil, err
	}

	target := rpc.Target{Command: cfg.Engine.Path, Args: cfg.Engine.EngineArgs(), Files: files}
	if rpc.IsSocket(cfg.Engine.Socket) {
		target = rpc.Target{Address: cfg.Engine.Socket}
	}
	logger.Info("connecting to engine", "target", target.String())
	return rpc.Connect(ctx, target, rpc.WithLogger(logger), rpc.WithCallTimeout(timeout))
}

// exitError reports why the engine connection ended. The engine closing its
// end after :quit is a normal exit.
func exitError(sess *bridge.Session) error {
	select {
	case <-sess.Done():
	default:
		return nil
	}
	err := sess.Err()
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

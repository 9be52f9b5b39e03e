// Package config holds the bridge configuration: defaults, validation,
// loading from TOML or YAML with flag and environment overrides, and the
// subset of settings that may change while a session runs.
package config

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/dshills/nvbridge/internal/logx"
	"github.com/dshills/nvbridge/internal/luachunk"
)

// Config is the complete bridge configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine" toml:"engine" yaml:"engine"`
	UI      UIConfig      `mapstructure:"ui" toml:"ui" yaml:"ui"`
	RPC     RPCConfig     `mapstructure:"rpc" toml:"rpc" yaml:"rpc"`
	Input   InputConfig   `mapstructure:"input" toml:"input" yaml:"input"`
	Lua     LuaConfig     `mapstructure:"lua" toml:"lua" yaml:"lua"`
	Log     LogConfig     `mapstructure:"log" toml:"log" yaml:"log"`
	Buffers BuffersConfig `mapstructure:"buffers" toml:"buffers" yaml:"buffers"`
}

// EngineConfig selects how the engine is reached.
type EngineConfig struct {
	// Path is the engine executable spawned with --embed.
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
	// Args are extra arguments passed before --embed.
	Args []string `mapstructure:"args" toml:"args" yaml:"args"`
	// Socket, when it names a live unix socket, is attached to instead of
	// spawning the engine.
	Socket string `mapstructure:"socket" toml:"socket" yaml:"socket"`
	// Clean starts the engine without user configuration (--clean).
	Clean bool `mapstructure:"clean" toml:"clean" yaml:"clean"`
}

// UIConfig is fixed for the session at attach time.
type UIConfig struct {
	Width       int  `mapstructure:"width" toml:"width" yaml:"width"`
	Height      int  `mapstructure:"height" toml:"height" yaml:"height"`
	ExtCmdline  bool `mapstructure:"ext_cmdline" toml:"ext_cmdline" yaml:"ext_cmdline"`
	ExtWildmenu bool `mapstructure:"ext_wildmenu" toml:"ext_wildmenu" yaml:"ext_wildmenu"`
}

// RPCConfig tunes the transport.
type RPCConfig struct {
	// CallTimeout is a Go duration string such as "10s". "0" disables the
	// default deadline.
	CallTimeout string `mapstructure:"call_timeout" toml:"call_timeout" yaml:"call_timeout"`
}

// InputConfig filters host key tokens.
type InputConfig struct {
	// IgnoreKeys are tokens never forwarded to the engine.
	IgnoreKeys []string `mapstructure:"ignore_keys" toml:"ignore_keys" yaml:"ignore_keys"`
}

// LuaConfig holds user Lua run in the engine after the handshake.
type LuaConfig struct {
	Init string `mapstructure:"init" toml:"init" yaml:"init"`
}

// LogConfig selects log verbosity and destination.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level" yaml:"level"`
	// File receives logs; empty means stderr when no UI owns the terminal.
	File string `mapstructure:"file" toml:"file" yaml:"file"`
}

// BuffersConfig controls engine buffers of closed host documents.
type BuffersConfig struct {
	WipeOnClose bool `mapstructure:"wipe_on_close" toml:"wipe_on_close" yaml:"wipe_on_close"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Path:   "nvim",
			Socket: "/tmp/nvim",
		},
		UI: UIConfig{
			Width:       80,
			Height:      24,
			ExtCmdline:  true,
			ExtWildmenu: true,
		},
		RPC: RPCConfig{
			CallTimeout: "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks every setting and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Engine.Path) == "" && strings.TrimSpace(c.Engine.Socket) == "" {
		errs = append(errs, &ValidationError{Key: "engine.path", Message: "an engine path or socket is required"})
	}
	if c.UI.Width < 1 || c.UI.Width > 1000 {
		errs = append(errs, &ValidationError{Key: "ui.width", Message: "must be between 1 and 1000"})
	}
	if c.UI.Height < 1 || c.UI.Height > 1000 {
		errs = append(errs, &ValidationError{Key: "ui.height", Message: "must be between 1 and 1000"})
	}
	if _, err := c.RPC.Timeout(); err != nil {
		errs = append(errs, &ValidationError{Key: "rpc.call_timeout", Message: err.Error()})
	}
	if !logx.ValidLevel(c.Log.Level) {
		errs = append(errs, &ValidationError{Key: "log.level", Message: "unknown level " + c.Log.Level})
	}
	if strings.TrimSpace(c.Lua.Init) != "" {
		if _, err := luachunk.Compile("lua.init", c.Lua.Init); err != nil {
			errs = append(errs, &ValidationError{Key: "lua.init", Message: err.Error()})
		}
	}
	for _, k := range c.Input.IgnoreKeys {
		if k == "" {
			errs = append(errs, &ValidationError{Key: "input.ignore_keys", Message: "empty key"})
			break
		}
	}
	return errors.Join(errs...)
}

// Timeout parses CallTimeout. An empty value means the default.
func (r RPCConfig) Timeout() (time.Duration, error) {
	if strings.TrimSpace(r.CallTimeout) == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(r.CallTimeout))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

// EngineArgs returns the arguments for spawning the engine.
func (e EngineConfig) EngineArgs() []string {
	args := slices.Clone(e.Args)
	if e.Clean && !slices.Contains(args, "--clean") {
		args = append(args, "--clean")
	}
	return args
}

// Ignored reports whether token is listed in IgnoreKeys.
func (i InputConfig) Ignored(token string) bool {
	return slices.Contains(i.IgnoreKeys, token)
}

// Reloadable is the part of the configuration a running session picks up
// from a changed config file. Attach parameters never change mid-session.
type Reloadable struct {
	IgnoreKeys []string
	LogLevel   string
	LuaInit    string
}

// Reloadable extracts the live-reloadable settings.
func (c Config) Reloadable() Reloadable {
	return Reloadable{
		IgnoreKeys: slices.Clone(c.Input.IgnoreKeys),
		LogLevel:   c.Log.Level,
		LuaInit:    c.Lua.Init,
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.toml")
	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Path != "nvim" || cfg.UI.Width != 80 || !cfg.UI.ExtCmdline {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[engine]
path = "/usr/local/bin/nvim"
clean = true

[ui]
width = 120

[input]
ignore_keys = ["<C-w>", "<C-q>"]

[buffers]
wipe_on_close = true
`)
	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Path != "/usr/local/bin/nvim" || !cfg.Engine.Clean {
		t.Errorf("unexpected engine section %+v", cfg.Engine)
	}
	if cfg.UI.Width != 120 || cfg.UI.Height != 24 {
		t.Errorf("expected 120x24, got %dx%d", cfg.UI.Width, cfg.UI.Height)
	}
	if len(cfg.Input.IgnoreKeys) != 2 || cfg.Input.IgnoreKeys[1] != "<C-q>" {
		t.Errorf("unexpected ignore keys %v", cfg.Input.IgnoreKeys)
	}
	if !cfg.Buffers.WipeOnClose {
		t.Error("expected wipe_on_close")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
rpc:
  call_timeout: 3s
log:
  level: debug
lua:
  init: "vim.o.number = true"
`)
	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RPC.CallTimeout != "3s" || cfg.Log.Level != "debug" {
		t.Errorf("unexpected values %+v %+v", cfg.RPC, cfg.Log)
	}
	if cfg.Lua.Init != "vim.o.number = true" {
		t.Errorf("expected lua init, got %q", cfg.Lua.Init)
	}
}

func TestLoad_ParseErrorHasPosition(t *testing.T) {
	path := writeFile(t, "config.toml", "[ui]\nwidth = = 3\n")
	_, err := NewLoader(path).Load()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Path != path || perr.Line != 2 {
		t.Errorf("expected error on line 2 of %s, got %+v", path, perr)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	path := writeFile(t, "config.toml", "[ui]\nwidth = 0\n")
	_, err := NewLoader(path).Load()
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("expected ErrValidationFailed, got %v", err)
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "config.ini", "width=1")
	_, err := NewLoader(path).Load()
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "config.toml", "[ui]\nwidth = 100\nheight = 30\n[log]\nlevel = \"warn\"\n")
	t.Setenv("NVBRIDGE_UI_HEIGHT", "40")
	t.Setenv("NVBRIDGE_LOG_LEVEL", "error")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("width", 80, "")
	fs.String("log-level", "info", "")
	if err := fs.Parse([]string{"--width=132"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := NewLoader(path).
		BindFlag("ui.width", fs.Lookup("width")).
		BindFlag("log.level", fs.Lookup("log-level")).
		Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UI.Width != 132 {
		t.Errorf("expected flag to win with 132, got %d", cfg.UI.Width)
	}
	if cfg.UI.Height != 40 {
		t.Errorf("expected env to win with 40, got %d", cfg.UI.Height)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected unset flag to leave env value error, got %s", cfg.Log.Level)
	}
}

func TestWriteDefault(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			if err := WriteDefault(path); err != nil {
				t.Fatalf("WriteDefault() error = %v", err)
			}
			cfg, err := NewLoader(path).Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			def := Default()
			if cfg.Engine.Path != def.Engine.Path || cfg.UI != def.UI || cfg.RPC != def.RPC || cfg.Log != def.Log {
				t.Errorf("expected defaults back, got %+v", cfg)
			}
			if err := WriteDefault(path); err == nil {
				t.Error("expected existing file to be kept")
			}
		})
	}
}

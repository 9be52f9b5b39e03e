package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigInit_WritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("expected output to name %s, got %q", path, out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if !strings.Contains(string(data), "width: 80") {
		t.Errorf("expected default width in file, got:\n%s", data)
	}

	if _, err := execute(t, "config", "init", "--config", path); err == nil {
		t.Error("expected second init to refuse overwriting")
	}
}

func TestConfigShow_PrintsEffectiveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[ui]\nwidth = 132\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "width = 132") {
		t.Errorf("expected width from file, got:\n%s", out)
	}
	if !strings.Contains(out, "height = 24") {
		t.Errorf("expected default height, got:\n%s", out)
	}
}

func TestConfigShow_RejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := execute(t, "config", "show", "--config", path, "--format", "ini"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "nvbridge dev") {
		t.Errorf("expected version line, got %q", out)
	}
}

func TestNewLoader_BindsChangedFlags(t *testing.T) {
	root := newRootCmd()
	if err := root.ParseFlags([]string{"--width", "100", "--config", filepath.Join(t.TempDir(), "none.toml")}); err != nil {
		t.Fatal(err)
	}
	path, _ := root.Flags().GetString("config")
	cfg, err := newLoader(root, runOptions{configPath: path}).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.UI.Width != 100 {
		t.Errorf("expected width 100, got %d", cfg.UI.Width)
	}
	if cfg.UI.Height != 24 {
		t.Errorf("expected default height 24, got %d", cfg.UI.Height)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. NVBRIDGE_UI_WIDTH.
const EnvPrefix = "NVBRIDGE"

// Format is a config file syntax.
type Format string

// Supported formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nvbridge", "config.toml"), nil
}

// Loader reads the configuration. Precedence, highest first: changed
// command-line flags, NVBRIDGE_* environment variables, the config file,
// built-in defaults.
type Loader struct {
	path  string
	flags map[string]*pflag.Flag
}

// NewLoader creates a loader for path. An empty path means DefaultPath.
func NewLoader(path string) *Loader {
	return &Loader{path: path, flags: make(map[string]*pflag.Flag)}
}

// BindFlag makes flag override the dotted config key when set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) *Loader {
	if flag != nil {
		l.flags[key] = flag
	}
	return l
}

// Path returns the resolved config file path.
func (l *Loader) Path() (string, error) {
	if l.path != "" {
		return l.path, nil
	}
	return DefaultPath()
}

// Load reads, merges and validates the configuration. A missing file is
// not an error.
func (l *Loader) Load() (Config, error) {
	path, err := l.Path()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	values, err := ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	if values != nil {
		if err := v.MergeConfigMap(values); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadFile parses a TOML or YAML file into a generic map.
func ReadFile(path string) (map[string]any, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any)
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &values); err != nil {
			perr := &ParseError{Path: path, Message: err.Error(), Err: err}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				perr.Line, perr.Column = derr.Position()
			}
			return nil, perr
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	}
	return values, nil
}

// WriteDefault writes the built-in configuration to path in the format
// implied by its extension. An existing file is left alone.
func WriteDefault(path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := Marshal(Default(), format)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Marshal encodes cfg in the given format.
func Marshal(cfg Config, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		return toml.Marshal(cfg)
	case FormatYAML:
		return yaml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("engine.path", cfg.Engine.Path)
	v.SetDefault("engine.args", cfg.Engine.Args)
	v.SetDefault("engine.socket", cfg.Engine.Socket)
	v.SetDefault("engine.clean", cfg.Engine.Clean)
	v.SetDefault("ui.width", cfg.UI.Width)
	v.SetDefault("ui.height", cfg.UI.Height)
	v.SetDefault("ui.ext_cmdline", cfg.UI.ExtCmdline)
	v.SetDefault("ui.ext_wildmenu", cfg.UI.ExtWildmenu)
	v.SetDefault("rpc.call_timeout", cfg.RPC.CallTimeout)
	v.SetDefault("input.ignore_keys", cfg.Input.IgnoreKeys)
	v.SetDefault("lua.init", cfg.Lua.Init)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("buffers.wipe_on_close", cfg.Buffers.WipeOnClose)
}

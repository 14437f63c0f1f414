package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"replbridge/internal/logging"
	"replbridge/internal/scrape"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// ConfigFileName is the TOML config file for user preferences.
const ConfigFileName = "config.toml"

// Config is the user-facing configuration in TOML format.
type Config struct {
	// Dialect selects built-in pattern and command defaults:
	// "idl", "gdl", or "shell". Unknown dialects must configure
	// prompt/patterns/commands explicitly.
	Dialect string `toml:"dialect"`

	// Command is the interpreter executable. Defaults per dialect.
	Command string `toml:"command"`

	// Args are passed verbatim to the interpreter.
	Args []string `toml:"args"`

	// WorkDir is the interpreter's starting working directory.
	WorkDir string `toml:"workdir"`

	// Env entries (KEY=VALUE) appended to the environment.
	Env []string `toml:"env"`

	// Prompt is the regex marking interpreter idle-ness, anchored at the
	// start of a line. Defaults per dialect (e.g. `^IDL> ` for idl).
	Prompt string `toml:"prompt"`

	// InitCommands are sent (silently) right after startup.
	InitCommands []string `toml:"init_commands"`

	// AutoStart starts the interpreter on the first submitted command when
	// it is not running.
	AutoStart bool `toml:"auto_start"`

	// PathPolicy is "expand" (default) or "symlinks".
	PathPolicy string `toml:"path_policy"`

	// NoPTY runs the interpreter on pipes instead of a PTY.
	NoPTY bool `toml:"no_pty"`

	// Cols/Rows set the PTY size.
	Cols int `toml:"cols"`
	Rows int `toml:"rows"`

	// Patterns replaces the dialect's built-in message patterns per field.
	Patterns PatternSettings `toml:"patterns"`

	// ExtraPatterns appends to the dialect's message patterns per field.
	ExtraPatterns PatternSettings `toml:"extra_patterns"`

	// Commands overrides the dialect's debug command strings per field.
	Commands CommandSettings `toml:"commands"`

	// Log configures structured logging.
	Log LogSettings `toml:"log"`

	// Web configures the editor-facing event bridge server.
	Web WebSettings `toml:"web"`

	// Store configures the session transcript database.
	Store StoreSettings `toml:"store"`

	// Watch configures source file watching for stale-breakpoint detection.
	Watch WatchSettings `toml:"watch"`

	// Theme is "dark", "light", or "system" (follow the OS setting).
	Theme string `toml:"theme"`
}

// PatternSettings mirrors scrape.RawPatterns with TOML field names.
type PatternSettings struct {
	Halt        []string `toml:"halt"`
	Breakpoint  []string `toml:"breakpoint"`
	SyntaxError []string `toml:"syntax_error"`
	Error       []string `toml:"error"`
}

func (p PatternSettings) raw() *scrape.RawPatterns {
	return &scrape.RawPatterns{
		HaltPatterns:        p.Halt,
		BreakpointPatterns:  p.Breakpoint,
		SyntaxErrorPatterns: p.SyntaxError,
		ErrorPatterns:       p.Error,
	}
}

// CommandSettings holds the command strings the bridge sends for debug
// operations. Templates use printf verbs: BreakSet gets (file, line),
// Compile gets (file), BreakClear gets (remote index), Print gets the
// expression.
type CommandSettings struct {
	BreakQuery  string   `toml:"break_query"`
	SourceQuery string   `toml:"source_query"`
	Traceback   string   `toml:"traceback"`
	Pwd         string   `toml:"pwd"`
	BreakSet    string   `toml:"break_set"`
	BreakOnce   string   `toml:"break_once"`
	BreakAfter  string   `toml:"break_after"`
	BreakClear  string   `toml:"break_clear"`
	Compile     string   `toml:"compile"`
	Step        string   `toml:"step"`
	StepOver    string   `toml:"step_over"`
	StepOut     string   `toml:"step_out"`
	Continue    string   `toml:"continue"`
	Run         string   `toml:"run"`
	ReturnToTop string   `toml:"return_to_top"`
	Print       string   `toml:"print"`
	Reset       []string `toml:"reset"`
}

// LogSettings configures the logging subsystem.
type LogSettings struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Debug      bool   `toml:"debug"`
}

// WebSettings configures the event bridge HTTP server.
type WebSettings struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	Token      string `toml:"token"`
	ReadOnly   bool   `toml:"read_only"`

	// EventsPerSecond rate-limits event broadcasts per connection
	// (default: 50).
	EventsPerSecond float64 `toml:"events_per_second"`
}

// StoreSettings configures the transcript database.
type StoreSettings struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// WatchSettings configures source file watching.
type WatchSettings struct {
	Enabled bool `toml:"enabled"`
}

// BridgeDir returns the base replbridge directory (~/.replbridge).
func BridgeDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".replbridge"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := BridgeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Load reads a TOML config from path and applies dialect defaults.
// A missing file yields the pure defaults for the "idl" dialect.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			cfgLog.Debug("config_loaded", slog.String("path", path))
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the config from ~/.replbridge/config.toml.
func LoadDefault() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

func (c *Config) applyDefaults() {
	if c.Dialect == "" {
		c.Dialect = "idl"
	}
	if c.Command == "" {
		c.Command = defaultCommand(c.Dialect)
	}
	if c.Prompt == "" {
		c.Prompt = scrape.DefaultPromptPattern(c.Dialect)
	}
	if c.PathPolicy == "" {
		c.PathPolicy = "expand"
	}
	if c.Theme == "" {
		c.Theme = "system"
	}
	if c.Web.ListenAddr == "" {
		c.Web.ListenAddr = "127.0.0.1:8427"
	}
	if c.Web.EventsPerSecond <= 0 {
		c.Web.EventsPerSecond = 50
	}
	c.Commands = mergeCommands(defaultCommands(c.Dialect), c.Commands)
}

func (c *Config) validate() error {
	if c.Prompt == "" {
		return fmt.Errorf("dialect %q has no built-in prompt; set prompt explicitly", c.Dialect)
	}
	if _, err := regexp.Compile(c.Prompt); err != nil {
		return fmt.Errorf("invalid prompt regex %q: %w", c.Prompt, err)
	}
	switch c.PathPolicy {
	case "expand", "symlinks":
	default:
		return fmt.Errorf("invalid path_policy %q (want expand or symlinks)", c.PathPolicy)
	}
	switch c.Theme {
	case "dark", "light", "system":
	default:
		return fmt.Errorf("invalid theme %q (want dark, light, or system)", c.Theme)
	}
	return nil
}

// FramePathPolicy converts the configured policy string.
func (c *Config) FramePathPolicy() scrape.PathPolicy {
	if c.PathPolicy == "symlinks" {
		return scrape.PathResolveSymlinks
	}
	return scrape.PathExpand
}

// BuildPatterns merges dialect defaults with the configured overrides and
// extras into the raw pattern set the classifier compiles.
func (c *Config) BuildPatterns() *scrape.RawPatterns {
	defaults := scrape.DefaultRawPatterns(c.Dialect)
	return scrape.MergeRawPatterns(defaults, c.Patterns.raw(), c.ExtraPatterns.raw())
}

func defaultCommand(dialect string) string {
	switch strings.ToLower(dialect) {
	case "idl":
		return "idl"
	case "gdl":
		return "gdl"
	case "shell":
		return "sh"
	default:
		return ""
	}
}

// defaultCommands returns the built-in debug command strings for a dialect.
func defaultCommands(dialect string) CommandSettings {
	switch strings.ToLower(dialect) {
	case "idl", "gdl":
		return CommandSettings{
			BreakQuery:  "help,/breakpoints",
			SourceQuery: "help,/source",
			Traceback:   "help,/traceback",
			Pwd:         "cd,current=__rbwd & print,__rbwd",
			BreakSet:    "breakpoint,'%s',%d",
			BreakOnce:   "breakpoint,/once,'%s',%d",
			BreakAfter:  "breakpoint,after=%d,'%s',%d",
			BreakClear:  "breakpoint,/clear,%d",
			Compile:     ".compile '%s'",
			Step:        ".step",
			StepOver:    ".stepover",
			StepOut:     ".out",
			Continue:    ".continue",
			Run:         ".run",
			ReturnToTop: "retall",
			Print:       "print,%s",
			Reset: []string{
				"retall",
				"widget_control,/reset",
				"close,/all",
				"heap_gc,/verbose",
			},
		}
	default:
		return CommandSettings{}
	}
}

// mergeCommands overlays non-empty override fields onto the defaults.
func mergeCommands(defaults, overrides CommandSettings) CommandSettings {
	out := defaults
	if overrides.BreakQuery != "" {
		out.BreakQuery = overrides.BreakQuery
	}
	if overrides.SourceQuery != "" {
		out.SourceQuery = overrides.SourceQuery
	}
	if overrides.Traceback != "" {
		out.Traceback = overrides.Traceback
	}
	if overrides.Pwd != "" {
		out.Pwd = overrides.Pwd
	}
	if overrides.BreakSet != "" {
		out.BreakSet = overrides.BreakSet
	}
	if overrides.BreakOnce != "" {
		out.BreakOnce = overrides.BreakOnce
	}
	if overrides.BreakAfter != "" {
		out.BreakAfter = overrides.BreakAfter
	}
	if overrides.BreakClear != "" {
		out.BreakClear = overrides.BreakClear
	}
	if overrides.Compile != "" {
		out.Compile = overrides.Compile
	}
	if overrides.Step != "" {
		out.Step = overrides.Step
	}
	if overrides.StepOver != "" {
		out.StepOver = overrides.StepOver
	}
	if overrides.StepOut != "" {
		out.StepOut = overrides.StepOut
	}
	if overrides.Continue != "" {
		out.Continue = overrides.Continue
	}
	if overrides.Run != "" {
		out.Run = overrides.Run
	}
	if overrides.ReturnToTop != "" {
		out.ReturnToTop = overrides.ReturnToTop
	}
	if overrides.Print != "" {
		out.Print = overrides.Print
	}
	if overrides.Reset != nil {
		out.Reset = overrides.Reset
	}
	return out
}

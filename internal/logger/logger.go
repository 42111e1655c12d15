package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for every file this package opens.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config covers both the supervisor's own structured log and the captured
// stdout/stderr of its children.
type Config struct {
	Slog SlogConfig `mapstructure:"slog" yaml:"slog"`
	File FileConfig `mapstructure:"file" yaml:"file"`
}

// SlogConfig configures the supervisor log. With Path empty it goes to stderr
// only; otherwise it is also written to a rotating file.
type SlogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
	Color  bool   `mapstructure:"color" yaml:"color"`   // colorize text on a terminal
	Path   string `mapstructure:"path" yaml:"path"`
}

// FileConfig describes where child output goes. If StdoutPath/StderrPath are
// empty and Dir is set, files are Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type FileConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	StdoutPath string `mapstructure:"stdout" yaml:"stdout"`
	StderrPath string `mapstructure:"stderr" yaml:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewSlogger builds the supervisor logger writing to console (and to the
// rotating file at Slog.Path when set). The returned closer releases the file.
func (c Config) NewSlogger(console io.Writer) (*slog.Logger, io.Closer) {
	if console == nil {
		console = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Slog.Level)}
	var closer io.Closer = nopCloser{}
	w := console
	if c.Slog.Path != "" {
		_ = os.MkdirAll(filepath.Dir(c.Slog.Path), 0o750)
		fileW := c.File.rotating(c.Slog.Path)
		closer = fileW
		w = io.MultiWriter(console, fileW)
	}
	var h slog.Handler
	switch {
	case strings.EqualFold(c.Slog.Format, "json"):
		h = slog.NewJSONHandler(w, opts)
	case c.Slog.Color && c.Slog.Path == "" && isTerminal(console):
		h = NewColorTextHandler(w, opts, true)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}

// ProcessWriters returns rotating writers for stdout and stderr of the named
// child. Both are nil when no destination is configured.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout, stderr, err := c.processPaths(name)
	if err != nil {
		return nil, nil, err
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.File.rotating(stdout)
	}
	if stderr != "" {
		errW = c.File.rotating(stderr)
	}
	return outW, errW, nil
}

// ProcessFiles opens the same destinations as ProcessWriters as plain append
// files. The child writes to them directly, so its output keeps flowing after
// the calling process exits; rotation does not apply.
func (c Config) ProcessFiles(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout, stderr, err := c.processPaths(name)
	if err != nil {
		return nil, nil, err
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		f, err := openAppend(stdout)
		if err != nil {
			return nil, nil, err
		}
		outW = f
	}
	if stderr != "" {
		f, err := openAppend(stderr)
		if err != nil {
			if outW != nil {
				_ = outW.Close()
			}
			return nil, nil, err
		}
		errW = f
	}
	return outW, errW, nil
}

func (c Config) processPaths(name string) (string, string, error) {
	f := c.File
	stdout := f.StdoutPath
	stderr := f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if f.Dir != "" {
		if err := os.MkdirAll(f.Dir, 0o750); err != nil {
			return "", "", fmt.Errorf("create log dir: %w", err)
		}
	}
	return stdout, stderr, nil
}

func openAppend(path string) (*os.File, error) {
	// #nosec G304
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

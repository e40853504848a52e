package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings applied when a FileConfig field is zero.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level names accepted by SlogConfig.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Output formats accepted by SlogConfig.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config bundles structured logging for the probe itself and file logging
// for the build commands it runs.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// SlogConfig controls the application logger.
type SlogConfig struct {
	Level      string
	Format     string
	Color      bool
	TimeStamps bool
	Source     bool
	// Path, when set, sends log output to a rotated file instead of stderr.
	Path string
}

// FileConfig describes rotated log destinations. If StdoutPath/StderrPath
// are empty and Dir is set, files are Dir/<name>.stdout.log and
// Dir/<name>.stderr.log. Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string
	StdoutPath string
	StderrPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel maps a level name to slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds the application logger described by c.Slog.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.Handler(c.output()))
}

// Handler returns a slog.Handler writing to w.
func (c Config) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	if strings.EqualFold(c.Slog.Format, FormatJSON) {
		return slog.NewJSONHandler(w, opts)
	}
	if c.Slog.Color && c.Slog.Path == "" {
		return NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	}
	return slog.NewTextHandler(w, opts)
}

func (c Config) output() io.Writer {
	if c.Slog.Path == "" {
		return os.Stderr
	}
	return c.File.rotated(c.Slog.Path)
}

// ProcessWriters returns rotated writers for stdout and stderr of the named
// command. Either writer is nil when no destination is configured for it.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	return c.File.Writers(name)
}

// Writers returns io.WriteClosers for stdout and stderr for the given name.
func (f FileConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if name == "" && f.StdoutPath == "" && f.StderrPath == "" && f.Dir != "" {
		return nil, nil, fmt.Errorf("log name required when only dir is set")
	}
	stdout := f.StdoutPath
	stderr := f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = f.rotated(stdout)
	}
	if stderr != "" {
		errW = f.rotated(stderr)
	}
	return outW, errW, nil
}

func (f FileConfig) rotated(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

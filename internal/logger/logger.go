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

// Default rotation settings for every lumberjack-backed writer.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the supervisor's own structured log output.
type SlogConfig struct {
	Level      Level  `json:"level" mapstructure:"level"`
	Format     Format `json:"format" mapstructure:"format"`
	Color      bool   `json:"color" mapstructure:"color"`
	TimeStamps bool   `json:"timestamps" mapstructure:"timestamps"`
	Source     bool   `json:"source" mapstructure:"source"`
}

// FileConfig describes rotated log files. Dir/<name>.log receives the
// supervisor log when Dir is set; service output goes to
// Dir/<service>.stdout.log and Dir/<service>.stderr.log unless explicit
// paths are given.
type FileConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout" mapstructure:"stdout"`
	StderrPath string `json:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

type Config struct {
	Slog SlogConfig `json:"slog" mapstructure:"slog"`
	File FileConfig `json:"file" mapstructure:"file"`
}

// ParseLevel maps a level name to slog.Level. Unknown names yield info.
func ParseLevel(l Level) slog.Level {
	switch Level(strings.ToLower(string(l))) {
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

// NewSlogger builds the application logger writing to stderr and, when
// File.Dir is set, to a rotated Dir/watchdogd.log as well.
func (c Config) NewSlogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if c.File.Dir != "" {
		_ = os.MkdirAll(c.File.Dir, 0o750)
		w = io.MultiWriter(os.Stderr, c.File.Rotating(filepath.Join(c.File.Dir, "watchdogd.log")))
	}
	return c.NewSloggerTo(w)
}

// NewSloggerTo builds a logger on an arbitrary writer. Color only applies to
// the text format.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	var h slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case c.Slog.Color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// NewServiceLogger returns a logger scoped to one service.
func (c Config) NewServiceLogger(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = c.NewSlogger()
	}
	return base.With(slog.String("service", name))
}

// ProcessWriters returns io.WriteClosers for a service's stdout and stderr.
// Either may be nil when neither Dir nor an explicit path is configured.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser) {
	return c.File.Writers(name)
}

// Writers resolves the stdout/stderr destinations for name. Files are opened
// lazily by lumberjack on first write.
func (f FileConfig) Writers(name string) (io.WriteCloser, io.WriteCloser) {
	stdout := f.StdoutPath
	stderr := f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = f.Rotating(stdout)
	}
	if stderr != "" {
		errW = f.Rotating(stderr)
	}
	return outW, errW
}

// Rotating returns a lumberjack writer for path using f's rotation settings.
func (f FileConfig) Rotating(path string) *lj.Logger {
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

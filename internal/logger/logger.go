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

// Default rotation constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// DaemonLogName is the file written under FileConfig.Dir for the daemon's own log.
const DaemonLogName = "dwatch.log"

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

// SlogConfig controls the structured logger of the daemon and CLI.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig describes rotated log files. When Dir is empty nothing is written to disk.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

// NewSlogger builds the process-wide logger. Output goes to stderr and, when
// File.Dir is set, to a rotated DaemonLogName file as well (without colors).
func (c Config) NewSlogger() *slog.Logger {
	var w io.Writer = os.Stderr
	color := c.Slog.Color
	if c.File.Dir != "" {
		if err := os.MkdirAll(c.File.Dir, 0o750); err == nil {
			w = io.MultiWriter(os.Stderr, c.rotated(filepath.Join(c.File.Dir, DaemonLogName)))
			color = false
		}
	}
	return c.newSlogger(w, color)
}

// NewSloggerTo builds a logger writing to w only.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	return c.newSlogger(w, c.Slog.Color)
}

func (c Config) newSlogger(w io.Writer, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     c.Slog.Level.slogLevel(),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	var h slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// TaskWriters returns rotated writers for a watch task's stdout and stderr:
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. Both are nil when Dir is unset.
func (c Config) TaskWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.File.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.File.Dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir %s: %w", c.File.Dir, err)
	}
	base := sanitizeFileName(name)
	outW := c.rotated(filepath.Join(c.File.Dir, base+".stdout.log"))
	errW := c.rotated(filepath.Join(c.File.Dir, base+".stderr.log"))
	return outW, errW, nil
}

func (c Config) rotated(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

func (l Level) slogLevel() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// sanitizeFileName keeps task ids such as "dotnet-watch:src/App:repo" usable as file names.
func sanitizeFileName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	s := r.Replace(strings.TrimSpace(name))
	if s == "" {
		return "task"
	}
	return s
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where maintenance output goes.
// Console output is always produced; File adds a rotated copy.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string // debug, info, warn, error (default info)
	Format     string // text or json (default text)
	NoColor    bool   // disable ANSI colours on the console
	File       string // optional log file path
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// ParseLevel maps a config string onto a slog level. Unknown values are an error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// FileWriter returns the rotating writer for c.File, or nil when no file is configured.
func (c Config) FileWriter() io.WriteCloser {
	if c.File == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the process logger. The returned closer flushes and closes the
// log file, if any; it is never nil.
func New(c Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	if console == nil {
		console = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var consoleHandler slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		if c.NoColor {
			consoleHandler = slog.NewTextHandler(console, opts)
		} else {
			consoleHandler = NewColorTextHandler(console, opts, true)
		}
	case "json":
		consoleHandler = slog.NewJSONHandler(console, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}

	fw := c.FileWriter()
	if fw == nil {
		return slog.New(consoleHandler), nopCloser{}, nil
	}
	// the file always gets plain JSON so it can be shipped as-is
	fileHandler := slog.NewJSONHandler(fw, opts)
	return slog.New(Fanout(consoleHandler, fileHandler)), fw, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

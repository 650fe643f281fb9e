// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure Setup.
type Options struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // text or json (default: text)
	File   string // optional rotating log file, written in addition to stderr

	MaxSizeMB  int // default: 50
	MaxBackups int // default: 5
	MaxAgeDays int // default: 30
}

// Setup installs a default logger carrying a fresh run_id and returns it
// with the run id and a close function for the log file.
func Setup(opts Options) (*slog.Logger, string, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, "", nil, err
	}

	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, "", nil, fmt.Errorf("create log directory: %w", err)
		}
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
			LocalTime:  true,
		}
		w = io.MultiWriter(os.Stderr, rot)
		closeFn = rot.Close
	}

	runID := uuid.NewString()
	logger := slog.New(NewHandler(w, opts.Format, level)).With("run_id", runID)
	slog.SetDefault(logger)
	return logger, runID, closeFn, nil
}

// NewHandler returns a JSON or text handler writing to w.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	ho := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

package logger

import (
	"io"
	"log/slog"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for the daemon's own log file (<state_root>/log/mcprocd.log).
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes the daemon's own log destination, distinct from the
// per-process log files the log hub writes (spec §6: "<state_root>/log/mcprocd.log
// for the daemon's own log").
type Config struct {
	Path       string
	Level      slog.Level
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console, when set, additionally mirrors output to this writer
	// (typically os.Stderr) with ANSI color, as when launched non-daemonized.
	Console io.Writer
}

// New builds the daemon's slog.Logger. When cfg.Path is empty it logs only to
// Console (or discards if that is nil too).
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var writers []io.Writer
	if cfg.Path != "" {
		writers = append(writers, &lj.Logger{
			Filename:   cfg.Path,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		})
	}
	if cfg.Console != nil {
		handler := NewColorTextHandler(cfg.Console, opts, true)
		if len(writers) == 0 {
			return slog.New(handler)
		}
		// File gets a plain handler (no ANSI codes on disk); console gets color.
		fileHandler := slog.NewTextHandler(writers[0], opts)
		return slog.New(multiHandler{handler, fileHandler})
	}
	if len(writers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, opts))
	}
	return slog.New(slog.NewTextHandler(writers[0], opts))
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

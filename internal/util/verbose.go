package util

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.Mutex
	verbose  bool
)

// InitLogger initializes the global slog logger with appropriate level
func InitLogger(v bool) {
	InitLoggerTo(os.Stderr, v)
}

// InitLoggerTo is InitLogger with an explicit destination. The record command
// keeps stdout for its status lines, so logs default to stderr.
func InitLoggerTo(w io.Writer, v bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if v {
		opts.Level = slog.LevelDebug
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	verbose = v
	logger = slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(logger)
}

// GetLogger returns the configured logger instance
func GetLogger() *slog.Logger {
	loggerMu.Lock()
	l := logger
	loggerMu.Unlock()
	if l == nil {
		InitLogger(false)
		return GetLogger()
	}
	return l
}

// ComponentLogger returns the global logger tagged with a component name.
func ComponentLogger(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// IsVerbose reports whether the logger was initialized at debug level, falling
// back to scanning the command line before InitLogger has run.
func IsVerbose() bool {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return verbose
	}
	for _, arg := range os.Args {
		if arg == "--verbose" {
			return true
		}
	}
	return false
}

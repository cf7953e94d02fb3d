package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogOptions configures a Logger.
type LogOptions struct {
	Level  string // debug, info, warn or error
	Format string // "text" or "json"
	Output io.Writer
}

// Logger provides leveled printf-style logging for CLI tools on top of slog.
type Logger struct {
	Verbose   bool
	DebugMode bool

	slog *slog.Logger
}

// NewLogger creates a text logger on stderr. verbose enables info messages and debug
// enables everything.
func NewLogger(verbose, debug bool) *Logger {
	level := "warn"
	switch {
	case debug:
		level = "debug"
	case verbose:
		level = "info"
	}
	return NewLoggerWithOptions(LogOptions{Level: level})
}

// NewLoggerWithOptions creates a logger with an explicit level, format and sink.
func NewLoggerWithOptions(opts LogOptions) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return &Logger{
		Verbose:   level <= slog.LevelInfo,
		DebugMode: level <= slog.LevelDebug,
		slog:      slog.New(handler),
	}
}

// Discard returns a logger that drops every message.
func Discard() *Logger {
	return NewLoggerWithOptions(LogOptions{Level: "error", Output: io.Discard})
}

// ParseLevel maps a level name to a slog level; unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	if l == nil || l.slog == nil {
		return slog.Default()
	}
	return l.slog
}

// With returns a logger that adds attrs to every record.
func (l *Logger) With(attrs ...any) *Logger {
	if l == nil {
		return &Logger{slog: slog.Default().With(attrs...)}
	}
	c := *l
	c.slog = l.Slog().With(attrs...)
	return &c
}

// Enabled reports whether messages at level would be emitted.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.Slog().Enabled(context.Background(), level)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Slog().Info(fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Enabled(slog.LevelDebug) {
		return
	}
	l.Slog().Debug(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.Slog().Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Slog().Error(fmt.Sprintf(format, args...))
}

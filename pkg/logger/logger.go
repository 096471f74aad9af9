package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"highlight-store/internal/domain"
)

// Options configures where and how the logger writes.
type Options struct {
	Level  string
	Format string
	// File, when set, receives a copy of every record with size-based rotation.
	File string
	// Output defaults to stdout.
	Output io.Writer
}

// AppLogger implements the domain.Logger interface on top of slog.
type AppLogger struct {
	logger *slog.Logger
	file   *lumberjack.Logger
}

// New creates a logger from opts.
func New(opts Options) *AppLogger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	l := &AppLogger{}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(out, l.file)
	}
	l.logger = slog.New(createHandler(out, opts.Format, parseLogLevel(opts.Level)))
	return l
}

// Close flushes and closes the log file, if any.
func (l *AppLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Info logs an info message
func (l *AppLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, fields...)
}

// Error logs an error message
func (l *AppLogger) Error(msg string, err error, fields ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, fields...)...)
}

// Debug logs a debug message
func (l *AppLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, fields...)
}

// Warn logs a warning message
func (l *AppLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, fields...)
}

// Enabled reports whether level would be logged.
func (l *AppLogger) Enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

// parseLogLevel converts string log level to a slog level
func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

type nopLogger struct{}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() domain.Logger {
	return nopLogger{}
}

func (nopLogger) Info(string, ...interface{})         {}
func (nopLogger) Error(string, error, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{})        {}
func (nopLogger) Warn(string, ...interface{})         {}

var _ domain.Logger = (*AppLogger)(nil)

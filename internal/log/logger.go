package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger writing to stderr.
// logic: default to INFO. If level is invalid, fallback to INFO. Format is
// "json" (default) or "text".
func Setup(level, format string) {
	once.Do(func() {
		install(os.Stderr, level, format)
	})
}

// SetupWriter replaces the global logger unconditionally, and makes later
// Setup calls no-ops. Used by tests.
func SetupWriter(w io.Writer, level, format string) {
	once.Do(func() {})
	install(w, level, format)
}

func install(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// ParseLevel maps a level name to slog.Level, falling back to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithPool returns a logger with the pool_id field set.
func WithPool(id string) *slog.Logger {
	return Get().With(slog.String("pool_id", id))
}

// WithTask returns a logger with the task_id field set.
func WithTask(id string) *slog.Logger {
	return Get().With(slog.String("task_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Package logger wraps log/slog with redaction, optional asynchronous
// output and rotating log files.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a slog.Logger that also owns its output's closers.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// Config selects level, format and destination.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Output io.Writer

	// File, when Path is set, replaces Output with a rotating file.
	File FileConfig
	// Async moves writes off the caller's goroutine.
	Async AsyncConfig
	// Sampling thins out repeated low-level records.
	Sampling SamplingConfig
}

// FileConfig maps onto lumberjack.Logger.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ContextKey is the type of request-scoped values WithContext picks up.
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyUserID    ContextKey = "user_id"
)

// New builds a Logger. Secrets and callback URLs are redacted on every record.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	out, closers := openOutput(cfg)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: sanitizeAttr,
	}
	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}
	h = NewSamplingHandler(h, cfg.Sampling)
	return &Logger{Logger: slog.New(h), closers: closers}
}

// openOutput stacks the async writer over the file or plain writer. Closers
// are ordered so the async buffer drains before the file closes.
func openOutput(cfg Config) (io.Writer, []io.Closer) {
	var (
		out     = cfg.Output
		closers []io.Closer
	)
	if out == nil {
		out = os.Stdout
	}
	if cfg.File.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		out = file
		closers = append(closers, file)
	}
	if cfg.Async.Enabled {
		async := NewAsyncWriter(out, cfg.Async)
		out = async
		closers = append([]io.Closer{async}, closers...)
	}
	return out, closers
}

// NewDefault logs JSON at info to stdout.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "json"})
}

// NewNop discards everything.
func NewNop() *Logger {
	return New(Config{Level: "error", Output: io.Discard})
}

// Close drains async output and closes log files. The first error wins.
func (l *Logger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closers: l.closers}
}

// WithContext adds request_id and user_id when ctx carries them.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, key := range []ContextKey{ContextKeyRequestID, ContextKeyUserID} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// SetDefault installs l as the process-wide slog logger.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

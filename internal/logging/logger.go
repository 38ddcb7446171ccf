// Package logging provides structured logging for rowsync using slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level aliases for convenience.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	defaultMu     sync.RWMutex
	defaultLogger *slog.Logger
	defaultOnce   sync.Once
)

// Options configures the logger behavior.
type Options struct {
	// Level sets the minimum log level. Defaults to LevelWarn.
	Level slog.Level
	// Output sets the output destination. Defaults to os.Stderr.
	Output io.Writer
	// JSON enables JSON output format. Defaults to false (text format).
	JSON bool
	// AddSource includes source file and line in log output.
	AddSource bool
}

// DefaultOptions returns options suitable for CLI usage.
func DefaultOptions() Options {
	return Options{
		Level:     LevelWarn,
		Output:    os.Stderr,
		JSON:      false,
		AddSource: false,
	}
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return LevelInfo
	}
	return lvl
}

// New creates a new logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	return slog.New(handler)
}

// Default returns the default logger, creating it if necessary.
// The default logger writes text output to stderr at Warn level.
func Default() *slog.Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = New(DefaultOptions())
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger and also sets it as slog's default.
func SetDefault(logger *slog.Logger) {
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	slog.SetDefault(logger)
}

// With returns a logger that includes the given attributes in every output.
func With(args ...any) *slog.Logger {
	return Default().With(args...)
}

// WithContext returns the logger carried by ctx, or the default logger.
func WithContext(ctx context.Context) *slog.Logger {
	if l := FromContext(ctx); l != nil {
		return l
	}
	return Default()
}

// Debug logs at debug level using the default logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at info level using the default logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at error level using the default logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// Timer logs the elapsed time of an operation at debug level when the
// returned function is called.
//
//	defer logging.Timer("sync")()
func Timer(op string) func() {
	start := time.Now()
	return func() {
		Default().Debug("operation finished",
			Operation(op),
			slog.Duration(KeyDuration, time.Since(start)),
		)
	}
}

type loggerKey struct{}

// NewContext returns a context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the logger from context, or nil if not present.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return nil
}

// Common attribute keys for consistent logging across the codebase.
const (
	// KeyScope identifies a sync scope by name.
	KeyScope = "scope"
	// KeyTable identifies a synchronized table.
	KeyTable = "table"
	// KeyStep identifies the protocol step.
	KeyStep = "step"
	// KeyBatch identifies a batch index.
	KeyBatch = "batch"
	// KeySession identifies a sync session.
	KeySession = "session"
	// KeyProvider identifies a database provider.
	KeyProvider = "provider"
	// KeyOperation identifies the operation being performed.
	KeyOperation = "operation"
	// KeyPolicy identifies the conflict resolution policy.
	KeyPolicy = "policy"
	// KeyCount provides a count of items.
	KeyCount = "count"
	// KeyError attaches an error value.
	KeyError = "error"
	// KeyDuration records operation duration.
	KeyDuration = "duration"
)

// Scope returns a slog attribute for scope logging.
func Scope(name string) slog.Attr {
	return slog.String(KeyScope, name)
}

// Table returns a slog attribute for table logging.
func Table(name string) slog.Attr {
	return slog.String(KeyTable, name)
}

// Step returns a slog attribute for protocol step logging.
func Step(step string) slog.Attr {
	return slog.String(KeyStep, step)
}

// Batch returns a slog attribute for batch index logging.
func Batch(index int) slog.Attr {
	return slog.Int(KeyBatch, index)
}

// Session returns a slog attribute for session logging.
func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}

// Provider returns a slog attribute for provider logging.
func Provider(name string) slog.Attr {
	return slog.String(KeyProvider, name)
}

// Operation returns a slog attribute for operation logging.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Err returns a slog attribute for error logging.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any(KeyError, err)
}

// Count returns a slog attribute for item counts.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

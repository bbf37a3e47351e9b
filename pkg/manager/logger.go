package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// LogLevelDebug represents debug level logging (most verbose)
	LogLevelDebug LogLevel = iota
	// LogLevelInfo represents info level logging (normal operations)
	LogLevelInfo
	// LogLevelWarn represents warning level logging
	LogLevelWarn
	// LogLevelError represents error level logging
	LogLevelError
	// LogLevelQuiet represents minimal logging (only errors and important messages)
	LogLevelQuiet
)

// LogFormat represents the logging output format
type LogFormat int

const (
	// LogFormatDefault uses emoji format if output is to a TTY, otherwise Go format
	LogFormatDefault LogFormat = iota
	// LogFormatGo uses standard Go log format with timestamps
	LogFormatGo
	// LogFormatEmoji uses emoji with colors for log prefixes
	LogFormatEmoji
	// LogFormatColor uses colored text without emoji
	LogFormatColor
	// LogFormatASCII uses plain text without colors or emoji
	LogFormatASCII
)

// Logger is a wrapper around slog to provide consistent logging across the application
type Logger struct {
	slogger *slog.Logger
	level   LogLevel
}

// DefaultLogger is the package-level logger
var DefaultLogger = NewLogger(os.Stdout, LogLevelInfo)

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError, LogLevelQuiet:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new Logger instance
func NewLogger(w io.Writer, level LogLevel) *Logger {
	opts := &slog.HandlerOptions{
		Level: toSlogLevel(level),
	}
	return newLoggerWithHandler(slog.NewTextHandler(w, opts), level)
}

func newLoggerWithHandler(handler slog.Handler, level LogLevel) *Logger {
	return &Logger{
		slogger: slog.New(handler),
		level:   level,
	}
}

// WithFileSink returns a logger that additionally appends every record at
// debug level to w, regardless of the console level.
func (l *Logger) WithFileSink(w io.Writer) *Logger {
	file := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{
		slogger: slog.New(&teeHandler{handlers: []slog.Handler{l.slogger.Handler(), file}}),
		level:   LogLevelDebug,
	}
}

// With returns a logger that adds the given attributes to every record
func (l *Logger) With(args ...interface{}) common.LoggerInterface {
	return &Logger{slogger: l.slogger.With(args...), level: l.level}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= LogLevelDebug {
		l.slogger.Debug(msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= LogLevelInfo {
		l.slogger.Info(msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= LogLevelWarn {
		l.slogger.Warn(msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.level <= LogLevelError {
		l.slogger.Error(msg, args...)
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level <= LogLevelDebug {
		l.slogger.Debug(fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level <= LogLevelInfo {
		l.slogger.Info(fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.level <= LogLevelWarn {
		l.slogger.Warn(fmt.Sprintf(format, args...))
	}
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level <= LogLevelError {
		l.slogger.Error(fmt.Sprintf(format, args...))
	}
}

// Importantf logs a formatted important message that is always shown regardless of log level
func (l *Logger) Importantf(format string, args ...interface{}) {
	// Important messages are logged at Error level to ensure they are displayed
	l.slogger.Error(fmt.Sprintf(format, args...))
}

// isTerminal reports whether stdout is connected to a terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// SetupDefaultLogger initializes the default logger with the specified level and format
func SetupDefaultLogger(level LogLevel, format ...LogFormat) *Logger {
	logFormat := LogFormatDefault
	if len(format) > 0 {
		logFormat = format[0]
	}

	if logFormat == LogFormatDefault {
		if isTerminal() {
			logFormat = LogFormatEmoji
		} else {
			logFormat = LogFormatGo
		}
	}

	switch logFormat {
	case LogFormatEmoji:
		DefaultLogger = NewColorfulLogger(os.Stdout, level, true, true)
	case LogFormatColor:
		DefaultLogger = NewColorfulLogger(os.Stdout, level, true, false)
	case LogFormatASCII:
		DefaultLogger = NewColorfulLogger(os.Stdout, level, false, false)
	default:
		DefaultLogger = NewLogger(os.Stdout, level)
	}
	return DefaultLogger
}

// teeHandler fans a record out to several handlers
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

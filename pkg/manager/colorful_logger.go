// ColorfulLogger provides a human-friendly log output with emojis and colors
package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Emoji for different log levels
const (
	emojiDebug = "🔍"  // Magnifying glass
	emojiInfo  = "ℹ️" // Information
	emojiWarn  = "⚠️" // Warning
	emojiError = "❌"  // Cross mark
)

// SimpleHandler is a basic slog.Handler that doesn't print timestamps
// and can use colors and emojis
type SimpleHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	useColors bool
	useEmoji  bool
	attrs     []slog.Attr
}

// Enabled implements slog.Handler.
func (h *SimpleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *SimpleHandler) prefix(level slog.Level) string {
	var emoji, name, color string
	switch {
	case level >= slog.LevelError:
		emoji, name, color = emojiError, "ERROR", colorRed+colorBold
	case level >= slog.LevelWarn:
		emoji, name, color = emojiWarn, "WARN", colorYellow
	case level >= slog.LevelInfo:
		emoji, name, color = emojiInfo, "INFO", colorGreen
	default:
		emoji, name, color = emojiDebug, "DEBUG", colorBlue
	}

	var prefix string
	if h.useEmoji {
		prefix = emoji + " "
	}
	if h.useColors {
		prefix += color + name + colorReset
	} else if !h.useEmoji {
		prefix = name
	}
	return strings.TrimSpace(prefix)
}

// Handle implements slog.Handler.
func (h *SimpleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.prefix(r.Level))
	b.WriteByte(' ')

	msg := r.Message
	if h.useColors && r.Level >= slog.LevelError {
		msg = colorBold + msg + colorReset
	}
	b.WriteString(msg)

	writeAttr := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		if h.useColors {
			fmt.Fprintf(&b, " %s%s=%v%s", colorGray, a.Key, a.Value, colorReset)
		} else {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := io.WriteString(h.w, b.String()); err != nil {
		// We can't do much with a logging error except note it
		fmt.Fprintf(os.Stderr, "Error writing log: %v\n", err)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *SimpleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup implements slog.Handler.
func (h *SimpleHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened
	return h
}

// NewColorfulLogger creates a new human-friendly logger without timestamps
func NewColorfulLogger(w io.Writer, level LogLevel, useColors, useEmoji bool) *Logger {
	handler := &SimpleHandler{
		w:         w,
		mu:        &sync.Mutex{},
		level:     toSlogLevel(level),
		useColors: useColors,
		useEmoji:  useEmoji,
	}
	return newLoggerWithHandler(handler, level)
}

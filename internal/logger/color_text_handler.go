package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// ColorTextHandler wraps slog.TextHandler and prefixes each message with an
// ANSI-colored level tag.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = levelColor(r.Level) + r.Level.String() + "\033[0m  " + r.Message
	if !h.showTime {
		r.Time = time.Time{}
	}
	return h.TextHandler.Handle(ctx, r)
}

// WithAttrs keeps the color wrapper when attributes are bound.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	th, _ := h.TextHandler.WithAttrs(attrs).(*slog.TextHandler)
	return &ColorTextHandler{TextHandler: th, showTime: h.showTime}
}

// WithGroup keeps the color wrapper when a group is opened.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	th, _ := h.TextHandler.WithGroup(name).(*slog.TextHandler)
	return &ColorTextHandler{TextHandler: th, showTime: h.showTime}
}

func levelColor(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "\033[36m" // Cyan
	case slog.LevelInfo:
		return "\033[32m" // Green
	case slog.LevelWarn:
		return "\033[33m" // Yellow
	case slog.LevelError:
		return "\033[31m" // Red
	default:
		return "\033[0m"
	}
}

package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// ColorTextHandler wraps slog.TextHandler and prefixes each line with the
// level in ANSI colour. The level attribute itself is dropped.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool

	mu  *sync.Mutex
	w   io.Writer
	buf *bytes.Buffer // TextHandler output, guarded by mu
}

// NewColorTextHandler creates a new ColorTextHandler.
// When showTime is false the time attribute is dropped from each line.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	prev := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 {
			if a.Key == slog.LevelKey || (!showTime && a.Key == slog.TimeKey) {
				return slog.Attr{}
			}
		}
		if prev != nil {
			return prev(groups, a)
		}
		return a
	}
	buf := &bytes.Buffer{}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(buf, &o),
		showTime:    showTime,
		mu:          &sync.Mutex{},
		w:           w,
		buf:         buf,
	}
}

func levelColor(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "\033[36m" // Cyan
	case l < slog.LevelWarn:
		return "\033[32m" // Green
	case l < slog.LevelError:
		return "\033[33m" // Yellow
	default:
		return "\033[31m" // Red
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	h.buf.WriteString(levelColor(r.Level))
	h.buf.WriteString(r.Level.String())
	h.buf.WriteString("\033[0m ")
	if err := h.TextHandler.Handle(ctx, r); err != nil {
		return err
	}
	_, err := h.w.Write(h.buf.Bytes())
	return err
}

func (h *ColorTextHandler) with(th slog.Handler) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: th.(*slog.TextHandler), showTime: h.showTime, mu: h.mu, w: h.w, buf: h.buf}
}

// WithAttrs keeps the colour wrapper when attributes are bound.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(h.TextHandler.WithAttrs(attrs))
}

// WithGroup keeps the colour wrapper when a group is opened.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return h.with(h.TextHandler.WithGroup(name))
}

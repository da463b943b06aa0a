package logger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// LineFunc receives one rendered log line per record.
type LineFunc func(line string)

// LineSink is an slog.Handler that renders each record as a single
// "message key=value ..." line and hands it to a callback. It lets callers
// that only understand text lines observe everything the maintenance
// stages report.
type LineSink struct {
	fn     LineFunc
	level  slog.Leveler
	prefix string // group prefix applied to attribute keys
	bound  string // pre-rendered attributes from WithAttrs
	mu     *sync.Mutex
}

// NewLineSink returns a handler writing records at or above level to fn.
func NewLineSink(fn LineFunc, level slog.Leveler) *LineSink {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LineSink{fn: fn, level: level, mu: &sync.Mutex{}}
}

func (s *LineSink) Enabled(_ context.Context, l slog.Level) bool {
	return l >= s.level.Level()
}

func (s *LineSink) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(s.bound)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, s.prefix, a)
		return true
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn(b.String())
	return nil
}

func (s *LineSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(s.bound)
	for _, a := range attrs {
		writeAttr(&b, s.prefix, a)
	}
	c := *s
	c.bound = b.String()
	return &c
}

func (s *LineSink) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	c := *s
	c.prefix = s.prefix + name + "."
	return &c
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, p, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

type fanout []slog.Handler

// Fanout sends every record to all handlers that accept its level.
func Fanout(hs ...slog.Handler) slog.Handler { return fanout(hs) }

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

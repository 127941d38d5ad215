// Package observability provides structured logging helpers for SafeClaw.
//
// It wraps log/slog with trace ID propagation and credential scrubbing: the
// handler installed by Setup strips every value registered with Protect from
// log output before it is written, so the bot access token and provider API
// keys cannot leak through a log line even when a caller logs a raw request
// or error body.
package observability

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/safeclaw/safeclaw/common/redact"
	"github.com/safeclaw/safeclaw/common/trace"
)

var (
	secretsMu sync.RWMutex
	secrets   []string
)

// Protect registers values that must never appear in log output.  Call it as
// soon as a credential enters the process: the transport token at startup,
// provider API keys when /auth stores them.  Registration is append-only for
// the process lifetime; a rotated-out key stays scrubbed.
func Protect(values ...string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	for _, v := range values {
		if len(v) >= 4 {
			secrets = append(secrets, v)
		}
	}
}

func scrub(s string) string {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	return redact.String(s, secrets...)
}

// scrubHandler wraps a slog.Handler and redacts protected values from the
// message and every string attribute of each record.
type scrubHandler struct {
	inner slog.Handler
}

func (h scrubHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.inner.Enabled(ctx, lvl)
}

func (h scrubHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, scrub(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(scrubAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h scrubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = scrubAttr(a)
	}
	return scrubHandler{inner: h.inner.WithAttrs(out)}
}

func (h scrubHandler) WithGroup(name string) slog.Handler {
	return scrubHandler{inner: h.inner.WithGroup(name)}
}

func scrubAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, scrub(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		out := make([]any, 0, len(group))
		for _, g := range group {
			out = append(out, scrubAttr(g))
		}
		return slog.Group(a.Key, out...)
	default:
		return a
	}
}

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(scrubHandler{inner: handler}))
}

// WithTrace returns a child logger that always includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return slog.Default()
	}
	return slog.With("trace_id", traceID)
}

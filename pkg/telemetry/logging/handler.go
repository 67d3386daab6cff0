package logging

import (
	"context"
	"log/slog"
)

// handler enriches records with context fields and redacts secrets before
// passing them to the wrapped handler.
type handler struct {
	inner    slog.Handler
	redactor *Redactor
}

func newHandler(inner slog.Handler, redactor *Redactor) *handler {
	return &handler{inner: inner, redactor: redactor}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	fields := contextAttrs(ctx)
	if len(fields) == 0 && h.redactor == nil {
		return h.inner.Handle(ctx, r)
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	for _, a := range fields {
		out.AddAttrs(h.redactor.RedactAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactor.RedactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactor.RedactAttr(a)
	}
	return &handler{inner: h.inner.WithAttrs(redacted), redactor: h.redactor}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

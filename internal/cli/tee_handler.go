package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// TeeHandler copies each record to several sinks that filter on their own
// levels, so the terminal stays at warn while the rotated log file keeps
// debug detail.
type TeeHandler struct {
	sinks []slog.Handler
}

// NewTeeHandler skips nil sinks
func NewTeeHandler(sinks ...slog.Handler) *TeeHandler {
	h := &TeeHandler{}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	return h
}

func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range h.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers to every interested sink even if an earlier one fails
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for i, s := range h.sinks {
		if !s.Enabled(ctx, record.Level) {
			continue
		}
		if err := s.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("log sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.each(func(s slog.Handler) slog.Handler { return s.WithAttrs(attrs) })
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.each(func(s slog.Handler) slog.Handler { return s.WithGroup(name) })
}

func (h *TeeHandler) each(fn func(slog.Handler) slog.Handler) *TeeHandler {
	next := &TeeHandler{sinks: make([]slog.Handler, len(h.sinks))}
	for i, s := range h.sinks {
		next.sinks[i] = fn(s)
	}
	return next
}

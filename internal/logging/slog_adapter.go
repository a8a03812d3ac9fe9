// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zerologHandler adapts slog records onto the global zerolog logger, so
// libraries that speak slog (the supervisor's event hook) share one output.
type zerologHandler struct {
	attrs []slog.Attr
}

// NewSlogLogger returns an *slog.Logger backed by the global zerolog logger.
func NewSlogLogger() *slog.Logger {
	return slog.New(&zerologHandler{})
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return zerolog.GlobalLevel() <= mapLevel(level)
}

func (h *zerologHandler) Handle(_ context.Context, record slog.Record) error {
	logger := Logger()
	event := logger.WithLevel(mapLevel(record.Level))
	for _, attr := range h.attrs {
		event = event.Interface(attr.Key, attr.Value.Any())
	}
	record.Attrs(func(attr slog.Attr) bool {
		event = event.Interface(attr.Key, attr.Value.Any())
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &zerologHandler{attrs: merged}
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened; the supervisor's events do not nest.
	return h
}

func mapLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

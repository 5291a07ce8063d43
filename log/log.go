// Copyright 2026 The l2sequencer Authors
// This file is part of the l2sequencer library.
//
// The l2sequencer library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package log implements the structured logger used throughout this
// module, a thin wrapper over log/slog in the same spirit as the teacher's
// own log package: a handful of level-named helpers, a plain-text terminal
// handler for interactive use, and a JSON handler for production.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ctxKey is the context key under which a request correlation id is
// stashed so every log line emitted while handling a request carries it.
type ctxKey struct{}

// WithCorrelationID returns a context carrying the given correlation id,
// for propagation across the queue/worker-pool/sequencer boundary.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID extracts the correlation id stashed by WithCorrelationID,
// returning "" if none is present.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Logger is the interface used throughout the module; *slog.Logger already
// satisfies everything below.
type Logger = slog.Logger

var root *slog.Logger

func init() {
	root = NewTerminalLogger(os.Stderr, slog.LevelInfo)
}

// NewTerminalLogger builds a human-readable slog text handler matching the
// teacher's terminal log format. When w is a terminal it is wrapped with
// go-colorable, but the text handler emits no color codes, so the output
// is uncolored either way.
func NewTerminalLogger(w io.Writer, level slog.Level) *slog.Logger {
	var out io.Writer = w
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
	}
	if useColor {
		out = colorable.NewColorable(w.(*os.File))
	}
	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// NewJSONLogger builds a JSON handler, used for production/aggregated
// logging pipelines.
func NewJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetDefault replaces the package-level root logger.
func SetDefault(l *slog.Logger) { root = l }

// WithCtx returns a logger enriched with the request's correlation id, if
// any is present on ctx.
func WithCtx(ctx context.Context) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return root.With("correlation_id", id)
	}
	return root
}

func Debug(msg string, args ...any) { root.Debug(msg, args...) }
func Info(msg string, args ...any)  { root.Info(msg, args...) }
func Warn(msg string, args ...any)  { root.Warn(msg, args...) }
func Error(msg string, args ...any) { root.Error(msg, args...) }

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package logging builds the process logger: slog with service metadata,
// OpenTelemetry trace ids and redaction of credential attributes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// sensitiveKeys never reach the output with their real value.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"password_hash": true,
	"token":         true,
	"authorization": true,
	"jwt_secret":    true,
}

// Options configures New.
type Options struct {
	Service string
	Version string
	// Format is "json" (default) or "text".
	Format string
	// Level is debug, info (default), warn or error.
	Level string
	// Writer defaults to os.Stderr.
	Writer io.Writer
}

type contextHandler struct {
	next    slog.Handler
	service string
	version string
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("service", h.service), slog.String("version", h.version))

	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}

	//nolint:wrapcheck // slog.Handler passthrough
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name), service: h.service, version: h.version}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, oops.Code(errutil.CodeValidation).With("level", s).Errorf("unknown log level %q", s)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// New builds a logger from opts.
func New(opts Options) (*slog.Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	hopts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	var base slog.Handler
	switch opts.Format {
	case "", "json":
		base = slog.NewJSONHandler(w, hopts)
	case "text":
		base = slog.NewTextHandler(w, hopts)
	default:
		return nil, oops.Code(errutil.CodeValidation).
			With("format", opts.Format).
			Errorf("unknown log format %q", opts.Format)
	}

	return slog.New(&contextHandler{next: base, service: opts.Service, version: opts.Version}), nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at ERROR with its oops code and context unpacked.
// Extra attrs are appended after the error fields.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Error(msg, append(errorAttrs(err), attrs...)...)
}

// LogWarn is LogError at WARN, for failures the caller deliberately swallows.
func LogWarn(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Warn(msg, append(errorAttrs(err), attrs...)...)
}

func errorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

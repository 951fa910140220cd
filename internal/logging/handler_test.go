// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/fittrack/fittrack/internal/logging"
	"github.com/fittrack/fittrack/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestNew_JSONStampsServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Service: "fittrack", Version: "1.2.3", Writer: &buf})
	require.NoError(t, err)

	logger.Info("hello")

	entry := decode(t, &buf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "fittrack", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Service: "fittrack", Format: "text", Writer: &buf})
	require.NoError(t, err)

	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=fittrack")
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := logging.New(logging.Options{Format: "xml"})
	errutil.AssertErrorCode(t, err, errutil.CodeValidation)

	_, err = logging.New(logging.Options{Level: "loud"})
	errutil.AssertErrorCode(t, err, errutil.CodeValidation)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	logger.Info("quiet")
	assert.Zero(t, buf.Len())

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestNew_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &buf})
	require.NoError(t, err)

	logger.Info("signup", "email", "a@x.com", "password", "secret1", "token", "eyJ...")

	entry := decode(t, &buf)
	assert.Equal(t, "a@x.com", entry["email"])
	assert.Equal(t, logging.Redacted, entry["password"])
	assert.Equal(t, logging.Redacted, entry["token"])
	assert.NotContains(t, buf.String(), "secret1")
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Writer: &buf})
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))

	logger.InfoContext(ctx, "traced")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_WithAttrsKeepsMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Service: "fittrack", Writer: &buf})
	require.NoError(t, err)

	logger.With("component", "api").WithGroup("req").Info("grouped", "path", "/x")

	entry := decode(t, &buf)
	assert.Equal(t, "api", entry["component"])
	req, ok := entry["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/x", req["path"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := logging.ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

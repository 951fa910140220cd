// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InstallTracing registers a global tracer provider and W3C trace-context
// propagation, so every log line written inside a request or linked
// operation carries trace_id and span_id. Spans are sampled but not
// exported. Extra options, such as a span processor, are passed through.
// The returned function shuts the provider down.
func InstallTracing(opts ...sdktrace.TracerProviderOption) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown
}

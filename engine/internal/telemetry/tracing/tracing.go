// Package tracing wraps an OpenTelemetry tracer with percentage-based
// sampling for per-URL spans. With sampling at or below zero the tracer
// is a no-op and spans cost nothing.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer starts spans for crawl operations.
type Tracer struct {
	tp     trace.TracerProvider
	tracer trace.Tracer
	active bool
}

// New builds a tracer sampling samplePercent of root spans. Percent <= 0
// yields a no-op tracer.
func New(samplePercent float64) *Tracer {
	if samplePercent <= 0 {
		np := noop.NewTracerProvider()
		return &Tracer{tp: np, tracer: np.Tracer("arachne")}
	}
	if samplePercent > 100 {
		samplePercent = 100
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplePercent / 100))),
	)
	return &Tracer{tp: tp, tracer: tp.Tracer("arachne"), active: true}
}

// StartSpan opens a span named name with the given URL attribute.
func (t *Tracer) StartSpan(ctx context.Context, name, url string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	if url != "" && span.IsRecording() {
		span.SetAttributes(attribute.String("url", url))
	}
	return ctx, span
}

// Shutdown flushes the underlying provider when one was created.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if sdk, ok := t.tp.(*sdktrace.TracerProvider); ok {
		return sdk.Shutdown(ctx)
	}
	return nil
}

// ExtractIDs returns the trace/span ids of the active span, empty when
// none is recording.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

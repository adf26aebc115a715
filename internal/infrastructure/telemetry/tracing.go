package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of engine spans
const TracerName = "github.com/erp/ledgersync"

// Span attribute keys
const (
	SpanAttrTenantID = "tenant_id"
	SpanAttrRunID    = "run_id"
	SpanAttrModule   = "module"
	SpanAttrPage     = "page"
)

// StartSpan starts an internal span from the global tracer provider.
// The caller must End the span.
//
//	ctx, span := telemetry.StartSpan(ctx, "sync.pipeline.page",
//	    attribute.String(telemetry.SpanAttrModule, string(module)))
//	defer span.End()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordError marks the span failed. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Package tracing wraps the OpenTelemetry tracer shared by every fern stage and repository
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
)

var tracer trace.Tracer

// SetTracer installs the tracer. Until it is called StartSpan is a no-op.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span tagged with the run and stage carried on ctx
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	if runID := fernctx.GetRunID(ctx); runID != "" {
		attrs = append(attrs, attribute.String("fern.run_id", runID))
	}
	if stage := fernctx.GetStage(ctx); stage != "" {
		attrs = append(attrs, attribute.String("fern.stage", stage))
	}
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Fail records err on the span and marks it failed
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Headers returns the W3C trace context of ctx as header pairs. Empty when ctx is untraced.
func Headers(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	if trace.SpanContextFromContext(ctx).IsValid() {
		propagation.TraceContext{}.Inject(ctx, carrier)
	}
	return carrier
}

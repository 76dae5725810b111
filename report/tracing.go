package report

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "banditformula"

// TracingReporter opens one span per scope. Results become span
// attributes and progress becomes span events.
type TracingReporter struct {
	Tracer trace.Tracer
}

// NewTracingReporter uses tp, or the global provider when tp is nil.
func NewTracingReporter(tp trace.TracerProvider) *TracingReporter {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingReporter{Tracer: tp.Tracer(tracerName)}
}

func (r *TracingReporter) EnterScope(ctx context.Context, name string) context.Context {
	ctx, _ = r.Tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx
}

func (r *TracingReporter) LeaveScope(ctx context.Context, result any) {
	span := trace.SpanFromContext(ctx)
	if err, ok := result.(error); ok && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if result != nil {
		span.SetAttributes(attributeOf("result", result))
	}
	span.End()
}

func (r *TracingReporter) Result(ctx context.Context, name string, value any) {
	trace.SpanFromContext(ctx).SetAttributes(attributeOf(name, value))
}

func (r *TracingReporter) Progress(ctx context.Context, done, total int) {
	trace.SpanFromContext(ctx).AddEvent("progress", trace.WithAttributes(
		attribute.Int("done", done),
		attribute.Int("total", total),
	))
}

func attributeOf(key string, v any) attribute.KeyValue {
	switch v := v.(type) {
	case float64:
		return attribute.Float64(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case string:
		return attribute.String(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	}
	return attribute.String(key, fmt.Sprint(v))
}

// Package observability wires OpenTelemetry tracing for storage and
// pipeline stages.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StageTracer provides stage-specific tracing utilities
type StageTracer struct {
	component string
	name      string
	tracer    trace.Tracer
}

// NewStageTracer creates a tracer for one named stage of a component, e.g.
// component "storage" and name "token".
func NewStageTracer(component, name string, tracer trace.Tracer) *StageTracer {
	return &StageTracer{component: component, name: name, tracer: tracer}
}

// StartSpan starts a stage-specific span
func (st *StageTracer) StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return st.tracer.Start(ctx, fmt.Sprintf("%s.%s.%s", st.component, st.name, operation),
		trace.WithAttributes(
			attribute.String("stage.component", st.component),
			attribute.String("stage.name", st.name),
			attribute.String("stage.operation", operation),
		))
}

// Trace runs fn inside a span and records its outcome.
func (st *StageTracer) Trace(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := st.StartSpan(ctx, operation)
	defer span.End()

	err := fn(ctx)
	finish(span, err)
	return err
}

// TraceBatch traces an operation over size elements and records its
// throughput.
func (st *StageTracer) TraceBatch(ctx context.Context, size int, operation string, fn func(context.Context) error) error {
	ctx, span := st.StartSpan(ctx, operation)
	defer span.End()

	span.SetAttributes(attribute.Int("batch.size", size))

	start := time.Now()
	err := fn(ctx)
	if elapsed := time.Since(start); err == nil && elapsed > 0 {
		span.SetAttributes(attribute.Float64("batch.throughput", float64(size)/elapsed.Seconds()))
	}
	finish(span, err)
	return err
}

// WithTrace adds the trace and span id of ctx to l.
func WithTrace(ctx context.Context, l *zap.Logger) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

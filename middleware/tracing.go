package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/workpool/item"
)

// tracerName is the instrumentation scope name for workpool tracing.
const tracerName = "github.com/xraph/workpool"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through.
//
// Span attributes: workpool.item.id, workpool.item.name, workpool.pool,
// workpool.attempt, workpool.max_attempts. On error, the span status is
// set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) error {
		ctx, span := tracer.Start(ctx, "workpool.item.execute",
			trace.WithAttributes(
				attribute.String("workpool.item.id", it.ID.String()),
				attribute.String("workpool.item.name", it.Name),
				attribute.String("workpool.pool", it.PoolKey),
				attribute.Int("workpool.attempt", it.Attempts),
				attribute.Int("workpool.max_attempts", it.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

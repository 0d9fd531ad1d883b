package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/workpool/item"
)

// meterName is the instrumentation scope name for workpool metrics.
const meterName = "github.com/xraph/workpool"

// Metrics returns middleware that records per-attempt execution metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - workpool.item.duration (Float64Histogram): attempt time in seconds,
//     with attributes: item_name, pool, status ("ok" or "error")
//   - workpool.item.executions (Int64Counter): total attempts,
//     with attributes: item_name, pool, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"workpool.item.duration",
		metric.WithDescription("Duration of item attempts in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"workpool.item.executions",
		metric.WithDescription("Total number of item attempts"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, it *item.Item, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("item_name", it.Name),
			attribute.String("pool", it.PoolKey),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}

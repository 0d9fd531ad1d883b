package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/item"
)

const meterName = "github.com/xraph/workpool/observability"

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.ItemEnqueued  = (*MetricsExtension)(nil)
	_ ext.ItemClaimed   = (*MetricsExtension)(nil)
	_ ext.ItemSucceeded = (*MetricsExtension)(nil)
	_ ext.ItemRetrying  = (*MetricsExtension)(nil)
	_ ext.ItemFailed    = (*MetricsExtension)(nil)
	_ ext.ItemCanceled  = (*MetricsExtension)(nil)
	_ ext.ItemReaped    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters through an
// OpenTelemetry meter. Register it as an engine extension to track
// enqueue, claim, completion, retry, failure, cancellation and reap
// rates per pool.
type MetricsExtension struct {
	ItemEnqueued  metric.Int64Counter
	ItemClaimed   metric.Int64Counter
	ItemSucceeded metric.Int64Counter
	ItemRetried   metric.Int64Counter
	ItemFailed    metric.Int64Counter
	ItemCanceled  metric.Int64Counter
	ItemReaped    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the given
// meter. Instrument creation errors fall back to no-op counters.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{item}"))
		return c
	}
	return &MetricsExtension{
		ItemEnqueued:  counter("workpool.item.enqueued", "Items persisted as pending"),
		ItemClaimed:   counter("workpool.item.claimed", "Items claimed by a dispatcher"),
		ItemSucceeded: counter("workpool.item.succeeded", "Items finished successfully"),
		ItemRetried:   counter("workpool.item.retried", "Failed attempts returned to pending"),
		ItemFailed:    counter("workpool.item.failed", "Items failed terminally"),
		ItemCanceled:  counter("workpool.item.canceled", "Items canceled"),
		ItemReaped:    counter("workpool.item.reaped", "Items reclaimed from lost workers"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnItemEnqueued implements ext.ItemEnqueued.
func (m *MetricsExtension) OnItemEnqueued(ctx context.Context, it *item.Item) error {
	m.ItemEnqueued.Add(ctx, 1, poolAttr(it))
	return nil
}

// OnItemClaimed implements ext.ItemClaimed.
func (m *MetricsExtension) OnItemClaimed(ctx context.Context, it *item.Item) error {
	m.ItemClaimed.Add(ctx, 1, poolAttr(it))
	return nil
}

// OnItemSucceeded implements ext.ItemSucceeded.
func (m *MetricsExtension) OnItemSucceeded(ctx context.Context, it *item.Item, _ time.Duration) error {
	m.ItemSucceeded.Add(ctx, 1, poolAttr(it))
	return nil
}

// OnItemRetrying implements ext.ItemRetrying.
func (m *MetricsExtension) OnItemRetrying(ctx context.Context, it *item.Item, _ error, _ time.Time) error {
	m.ItemRetried.Add(ctx, 1, poolAttr(it))
	return nil
}

// OnItemFailed implements ext.ItemFailed.
func (m *MetricsExtension) OnItemFailed(ctx context.Context, it *item.Item, _ error) error {
	m.ItemFailed.Add(ctx, 1, poolAttr(it))
	return nil
}

// OnItemCanceled implements ext.ItemCanceled.
func (m *MetricsExtension) OnItemCanceled(ctx context.Context, it *item.Item) error {
	m.ItemCanceled.Add(ctx, 1, poolAttr(it))
	return nil
}

// OnItemReaped implements ext.ItemReaped.
func (m *MetricsExtension) OnItemReaped(ctx context.Context, it *item.Item) error {
	m.ItemReaped.Add(ctx, 1, poolAttr(it))
	return nil
}

func poolAttr(it *item.Item) metric.AddOption {
	return metric.WithAttributes(attribute.String("pool", it.PoolKey))
}

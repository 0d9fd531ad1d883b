package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestItem() *item.Item {
	return &item.Item{
		ID:      id.NewItemID(),
		Name:    "send-email",
		PoolKey: "email",
	}
}

// counterValues sums every int64 counter by instrument name.
func counterValues(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	ctx := context.Background()
	it := newTestItem()

	tests := []struct {
		metric string
		fire   func(e *observability.MetricsExtension) error
	}{
		{"workpool.item.enqueued", func(e *observability.MetricsExtension) error { return e.OnItemEnqueued(ctx, it) }},
		{"workpool.item.claimed", func(e *observability.MetricsExtension) error { return e.OnItemClaimed(ctx, it) }},
		{"workpool.item.succeeded", func(e *observability.MetricsExtension) error {
			return e.OnItemSucceeded(ctx, it, 100*time.Millisecond)
		}},
		{"workpool.item.retried", func(e *observability.MetricsExtension) error {
			return e.OnItemRetrying(ctx, it, errors.New("boom"), time.Now().Add(time.Minute))
		}},
		{"workpool.item.failed", func(e *observability.MetricsExtension) error {
			return e.OnItemFailed(ctx, it, errors.New("terminal"))
		}},
		{"workpool.item.canceled", func(e *observability.MetricsExtension) error { return e.OnItemCanceled(ctx, it) }},
		{"workpool.item.reaped", func(e *observability.MetricsExtension) error { return e.OnItemReaped(ctx, it) }},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			e, reader := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := counterValues(t, reader)[tt.metric]; got != 1 {
				t.Errorf("%s: want 1, got %d", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_PoolAttribute(t *testing.T) {
	e, reader := newTestExtension()
	_ = e.OnItemEnqueued(context.Background(), newTestItem())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "workpool.item.enqueued" {
				continue
			}
			dp := m.Data.(metricdata.Sum[int64]).DataPoints[0]
			v, ok := dp.Attributes.Value("pool")
			if !ok || v.AsString() != "email" {
				t.Fatalf("pool attribute = %v (present %v), want email", v.AsString(), ok)
			}
			return
		}
	}
	t.Fatal("workpool.item.enqueued not recorded")
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	it := newTestItem()

	reg.EmitItemEnqueued(ctx, it)
	reg.EmitItemClaimed(ctx, it)
	reg.EmitItemSucceeded(ctx, it, 50*time.Millisecond)
	reg.EmitItemRetrying(ctx, it, errors.New("fail"), time.Now())
	reg.EmitItemFailed(ctx, it, errors.New("dead"))
	reg.EmitItemCanceled(ctx, it)
	reg.EmitItemReaped(ctx, it)

	values := counterValues(t, reader)
	for _, name := range []string{
		"workpool.item.enqueued",
		"workpool.item.claimed",
		"workpool.item.succeeded",
		"workpool.item.retried",
		"workpool.item.failed",
		"workpool.item.canceled",
		"workpool.item.reaped",
	} {
		if values[name] != 1 {
			t.Errorf("%s: want 1, got %d", name, values[name])
		}
	}
}

package poold

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "omnipool/poold"

var (
	metersOnce   sync.Once
	sharedMeters *poolMeters
)

// poolMeters exports executor outcomes and stream drops through the global
// OpenTelemetry meter provider, next to the Prometheus collectors.
type poolMeters struct {
	operations metric.Int64Counter
	dropped    metric.Int64Counter
}

func defaultMeters() *poolMeters {
	metersOnce.Do(func() {
		sharedMeters = newPoolMeters(otel.GetMeterProvider())
	})
	return sharedMeters
}

func newPoolMeters(provider metric.MeterProvider) *poolMeters {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(meterName)
	operations, err := meter.Int64Counter("omnipool.pool.operations",
		metric.WithDescription("Pool operations by outcome kind"))
	if err != nil {
		fallback := noop.NewMeterProvider().Meter(meterName)
		operations, _ = fallback.Int64Counter("omnipool.pool.operations")
		meter = fallback
	}
	dropped, err := meter.Int64Counter("omnipool.stream.dropped",
		metric.WithDescription("Event subscribers disconnected for falling behind"))
	if err != nil {
		fallback := noop.NewMeterProvider().Meter(meterName)
		dropped, _ = fallback.Int64Counter("omnipool.stream.dropped")
	}
	return &poolMeters{operations: operations, dropped: dropped}
}

func (m *poolMeters) recordOperation(ctx context.Context, op, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (m *poolMeters) recordDropped(reason string, count int) {
	if m == nil || m.dropped == nil || count <= 0 {
		return
	}
	m.dropped.Add(context.Background(), int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

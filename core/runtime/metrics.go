package runtime

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	metricsOnce   sync.Once
	sharedMetrics *receiptMetrics
)

type receiptMetrics struct {
	executed metric.Int64Counter
	gasUsed  metric.Int64Histogram
}

func runtimeMetrics() *receiptMetrics {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("vaulttoken/runtime")
		executed, err := meter.Int64Counter("vault.runtime.receipts")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("vaulttoken/runtime")
			executed, _ = fallback.Int64Counter("vault.runtime.receipts")
			meter = fallback
		}
		gasUsed, err := meter.Int64Histogram("vault.runtime.gas_used")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("vaulttoken/runtime")
			gasUsed, _ = fallback.Int64Histogram("vault.runtime.gas_used")
		}
		sharedMetrics = &receiptMetrics{executed: executed, gasUsed: gasUsed}
	})
	return sharedMetrics
}

func (m *receiptMetrics) record(ctx context.Context, action Action, status Status, gas uint64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action.String()),
		attribute.String("status", string(status)),
	)
	m.executed.Add(ctx, 1, attrs)
	if gas > 0 {
		m.gasUsed.Record(ctx, int64(gas/1_000_000), attrs)
	}
}

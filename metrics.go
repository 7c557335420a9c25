package leasevol

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type indexMetrics struct {
	ops        metric.Int64Counter
	opDuration metric.Int64Histogram
	repairs    metric.Int64Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *indexMetrics
)

// indexMetricsFor initializes the package meters once. Exporter wiring is the
// host process's business; without it the instruments are no-ops.
func indexMetricsFor(logger pslog.Logger) *indexMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter("pkt.systems/leasevol")
		m := &indexMetrics{}
		var err error

		m.ops, err = meter.Int64Counter(
			"leasevol.index.ops",
			metric.WithDescription("Lease index operations by op and result"),
		)
		logMetricInitError(logger, "leasevol.index.ops", err)

		m.opDuration, err = meter.Int64Histogram(
			"leasevol.index.op.duration_ms",
			metric.WithDescription("Lease index operation duration"),
			metric.WithUnit("ms"),
		)
		logMetricInitError(logger, "leasevol.index.op.duration_ms", err)

		m.repairs, err = meter.Int64Counter(
			"leasevol.index.rebuild.repairs",
			metric.WithDescription("Slot repairs applied by index rebuild, by action"),
		)
		logMetricInitError(logger, "leasevol.index.rebuild.repairs", err)

		sharedMetrics = m
	})
	return sharedMetrics
}

func (m *indexMetrics) observeOp(ctx context.Context, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	)
	if m.ops != nil {
		m.ops.Add(ctx, 1, attrs)
	}
	if m.opDuration != nil {
		m.opDuration.Record(ctx, time.Since(start).Milliseconds(), attrs)
	}
}

func (m *indexMetrics) observeRepair(ctx context.Context, action string) {
	if m == nil || m.repairs == nil {
		return
	}
	m.repairs.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

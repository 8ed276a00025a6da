package ingest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	metricsMu      sync.Mutex
	metricsInitErr error
	durationHist   metric.Float64Histogram
	chunkCounter   metric.Int64Counter
)

func recordIngest(ctx context.Context, tenantID string, d time.Duration, chunks int) {
	if err := ensureMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tenant_id", tenantID))
	if durationHist != nil {
		durationHist.Record(ctx, d.Seconds(), attrs)
	}
	if chunkCounter != nil && chunks > 0 {
		chunkCounter.Add(ctx, int64(chunks), attrs)
	}
}

// ResetMetricsForTesting clears the registered instruments so tests can
// install their own meter provider.
func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	durationHist = nil
	chunkCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragline.rag.ingest")
		var err error
		durationHist, err = meter.Float64Histogram(
			"ragline_ingest_duration_seconds",
			metric.WithDescription("Latency of document ingestion runs"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		chunkCounter, err = meter.Int64Counter(
			"ragline_ingest_chunks_total",
			metric.WithDescription("Chunks persisted per ingestion run"),
			metric.WithUnit("1"),
		)
		if err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}

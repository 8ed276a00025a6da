package retriever

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ragline/ragline/pkg/logger"
)

var (
	metricsOnce     sync.Once
	queryLatency    metric.Float64Histogram
	fallbackBundles metric.Int64Counter
)

func ensureMetrics(ctx context.Context) {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragline.rag.retriever")
		var err error
		queryLatency, err = meter.Float64Histogram(
			"ragline_retrieval_query_seconds",
			metric.WithDescription("Latency of retrieval context builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			logger.FromContext(ctx).Warn("Failed to register retrieval latency metric", "error", err)
		}
		fallbackBundles, err = meter.Int64Counter(
			"ragline_retrieval_fallback_bundles_total",
			metric.WithDescription("Context bundles assembled from sub-threshold candidates"),
		)
		if err != nil {
			logger.FromContext(ctx).Warn("Failed to register retrieval fallback metric", "error", err)
		}
	})
}

func recordQuery(ctx context.Context, tenantID string, duration time.Duration, fallback bool) {
	ensureMetrics(ctx)
	attrs := metric.WithAttributes(attribute.String("tenant_id", tenantID))
	if queryLatency != nil {
		queryLatency.Record(ctx, duration.Seconds(), attrs)
	}
	if fallback && fallbackBundles != nil {
		fallbackBundles.Add(ctx, 1, attrs)
	}
}

package embedder

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ragline/ragline/pkg/logger"
)

var (
	metricsOnce     sync.Once
	fallbackCounter metric.Int64Counter
	cacheHitCounter metric.Int64Counter
	remoteCounter   metric.Int64Counter
)

func initMetrics(ctx context.Context) {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("ragline/embedder")
		var err error
		fallbackCounter, err = meter.Int64Counter(
			"ragline_embedding_fallback_total",
			metric.WithDescription("Embeddings served by the local hash fallback"),
		)
		if err != nil {
			logger.FromContext(ctx).Warn("failed to init fallback counter", "error", err)
		}
		cacheHitCounter, err = meter.Int64Counter(
			"ragline_embedding_cache_hits_total",
			metric.WithDescription("Embeddings served from the TTL cache"),
		)
		if err != nil {
			logger.FromContext(ctx).Warn("failed to init cache hit counter", "error", err)
		}
		remoteCounter, err = meter.Int64Counter(
			"ragline_embedding_remote_total",
			metric.WithDescription("Embeddings served by the remote provider"),
		)
		if err != nil {
			logger.FromContext(ctx).Warn("failed to init remote counter", "error", err)
		}
	})
}

func recordSource(ctx context.Context, provider Provider, model string, source Source, n int) {
	initMetrics(ctx)
	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("model", model),
	)
	switch source {
	case SourceFallback:
		if fallbackCounter != nil {
			fallbackCounter.Add(ctx, int64(n), attrs)
		}
	case SourceCache:
		if cacheHitCounter != nil {
			cacheHitCounter.Add(ctx, int64(n), attrs)
		}
	case SourceRemote:
		if remoteCounter != nil {
			remoteCounter.Add(ctx, int64(n), attrs)
		}
	}
}

package vectordb

import (
	"context"
	"fmt"
	"time"

	"github.com/ragline/ragline/pkg/logger"
)

// Config selects and configures a provider.
type Config struct {
	Provider        Provider
	DSN             string
	APIKey          string
	Timeout         time.Duration
	UpsertBatchSize int
}

// New builds a Store for the configured provider. If the backend is
// unreachable the returned store runs in degraded unavailable mode instead
// of failing construction, so the surrounding system stays live.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vectordb: config is required")
	}
	switch cfg.Provider {
	case ProviderQdrant:
		store, err := NewQdrantStore(&QdrantConfig{
			BaseURL:         cfg.DSN,
			APIKey:          cfg.APIKey,
			Timeout:         cfg.Timeout,
			UpsertBatchSize: cfg.UpsertBatchSize,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Healthy(ctx); err != nil {
			logger.FromContext(ctx).Error("qdrant unreachable, entering degraded mode", "error", err)
			return NewUnavailableStore(err), nil
		}
		return store, nil
	case ProviderPGVector:
		store, err := NewPGVectorStore(ctx, cfg.DSN)
		if err != nil {
			logger.FromContext(ctx).Error("pgvector unreachable, entering degraded mode", "error", err)
			return NewUnavailableStore(err), nil
		}
		return store, nil
	case ProviderMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("vectordb: unsupported provider %q", cfg.Provider)
	}
}

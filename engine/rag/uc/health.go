package uc

import (
	"context"

	"github.com/ragline/ragline/engine/rag/embedder"
	"github.com/ragline/ragline/engine/rag/vectordb"
)

// Component health states reported to callers.
const (
	HealthHealthy     = "healthy"
	HealthDegraded    = "degraded-fallback"
	HealthUnavailable = "unavailable"
)

type HealthOutput struct {
	VectorStoreStatus       string
	EmbeddingProviderStatus string
	EmbeddingFallbackCount  int64
}

type Health struct {
	embed   *embedder.Adapter
	vectors vectordb.Store
}

func NewHealth(embed *embedder.Adapter, vectors vectordb.Store) *Health {
	return &Health{embed: embed, vectors: vectors}
}

func (uc *Health) Execute(ctx context.Context) (*HealthOutput, error) {
	out := &HealthOutput{
		VectorStoreStatus:       HealthHealthy,
		EmbeddingProviderStatus: HealthHealthy,
	}
	if err := uc.vectors.Healthy(ctx); err != nil {
		out.VectorStoreStatus = HealthUnavailable
	}
	status := uc.embed.Status()
	out.EmbeddingProviderStatus = status.State
	out.EmbeddingFallbackCount = status.FallbackCount
	return out, nil
}

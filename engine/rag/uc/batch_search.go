package uc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ragline/ragline/engine/rag/embedder"
	"github.com/ragline/ragline/engine/rag/vectordb"
)

type BatchSearchInput struct {
	TenantID  string
	Namespace string
	Queries   []string
	TopK      int
}

type BatchSearchOutput struct {
	// Results is position-aligned with the input queries.
	Results [][]vectordb.Match
}

type BatchSearch struct {
	embed   *embedder.Adapter
	vectors vectordb.Store
	prefix  string
}

func NewBatchSearch(embed *embedder.Adapter, vectors vectordb.Store, collectionPrefix string) *BatchSearch {
	return &BatchSearch{embed: embed, vectors: vectors, prefix: collectionPrefix}
}

func (uc *BatchSearch) Execute(ctx context.Context, in *BatchSearchInput) (*BatchSearchOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return nil, ErrTenantMissing
	}
	if len(in.Queries) == 0 {
		return nil, ErrQueryMissing
	}
	collection, err := vectordb.CollectionName(uc.prefix, tenantID, in.Namespace)
	if err != nil {
		return nil, err
	}
	results := uc.embed.EmbedBatch(ctx, in.Queries)
	vectors := make([][]float32, len(results))
	for i, r := range results {
		vectors[i] = r.Vector
	}
	opts := vectordb.SearchOptions{
		TopK:   in.TopK,
		Filter: map[string]any{vectordb.PayloadFieldTenant: tenantID},
	}
	matches, err := uc.vectors.SearchBatch(ctx, collection, vectors, opts)
	if err != nil {
		if errors.Is(err, vectordb.ErrCollectionNotFound) {
			empty := make([][]vectordb.Match, len(in.Queries))
			for i := range empty {
				empty[i] = []vectordb.Match{}
			}
			return &BatchSearchOutput{Results: empty}, nil
		}
		return nil, fmt.Errorf("batch search: %w", err)
	}
	return &BatchSearchOutput{Results: matches}, nil
}

package uc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/embedder"
	"github.com/ragline/ragline/engine/rag/vectordb"
	"github.com/ragline/ragline/pkg/logger"
)

type SearchInput struct {
	TenantID  string
	Namespace string
	Query     string
	TopK      int
	// Filter narrows matches by exact payload values, in addition to the
	// tenant scope that is always applied.
	Filter map[string]any
	// Debug enables the diagnostic unfiltered retry when the filtered
	// search comes back empty. Matches from that retry are labeled with
	// unfiltered provenance and must never be treated as tenant-scoped.
	Debug bool
}

type SearchOutput struct {
	Matches []vectordb.Match
	// EmbeddingSource reports how the query vector was produced.
	EmbeddingSource embedder.Source
}

type Search struct {
	embed   *embedder.Adapter
	vectors vectordb.Store
	prefix  string
}

func NewSearch(embed *embedder.Adapter, vectors vectordb.Store, collectionPrefix string) *Search {
	return &Search{embed: embed, vectors: vectors, prefix: collectionPrefix}
}

func (uc *Search) Execute(ctx context.Context, in *SearchInput) (*SearchOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return nil, ErrTenantMissing
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, ErrQueryMissing
	}
	collection, err := vectordb.CollectionName(uc.prefix, tenantID, in.Namespace)
	if err != nil {
		return nil, err
	}
	result := uc.embed.Embed(ctx, in.Query)
	opts := vectordb.SearchOptions{TopK: in.TopK, Filter: uc.buildFilter(tenantID, in.Filter)}
	matches, err := uc.vectors.Search(ctx, collection, result.Vector, opts)
	if err != nil {
		// A tenant that never ingested anything has no collection yet;
		// that is an empty result, not a failure.
		if errors.Is(err, vectordb.ErrCollectionNotFound) {
			return &SearchOutput{Matches: nil, EmbeddingSource: result.Source}, nil
		}
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(matches) == 0 && in.Debug {
		matches, err = uc.unfilteredRetry(ctx, collection, result.Vector, in.TopK)
		if err != nil {
			return nil, err
		}
	}
	return &SearchOutput{Matches: matches, EmbeddingSource: result.Source}, nil
}

func (uc *Search) buildFilter(tenantID string, extra map[string]any) map[string]any {
	filter := core.CloneMap(extra)
	if filter == nil {
		filter = make(map[string]any, 1)
	}
	filter[vectordb.PayloadFieldTenant] = tenantID
	return filter
}

// unfilteredRetry reruns the search without any payload filter. Every
// returned match is labeled unfiltered-debug so it can never be mistaken
// for a tenant-scoped result.
func (uc *Search) unfilteredRetry(
	ctx context.Context,
	collection string,
	vector []float32,
	topK int,
) ([]vectordb.Match, error) {
	logger.FromContext(ctx).Warn("Filtered search empty, running unfiltered diagnostic retry",
		"collection", collection,
	)
	matches, err := uc.vectors.Search(ctx, collection, vector, vectordb.SearchOptions{TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("unfiltered search: %w", err)
	}
	for i := range matches {
		matches[i].Provenance = vectordb.ProvenanceUnfiltered
	}
	return matches, nil
}

// Package retriever builds retrieval context bundles: it embeds a query,
// searches the vector store and applies similarity thresholding with an
// adaptive best-effort fallback.
package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ragline/ragline/engine/rag/embedder"
	"github.com/ragline/ragline/engine/rag/vectordb"
	"github.com/ragline/ragline/pkg/logger"
)

var (
	// ErrEmptyQuery rejects blank queries before any remote work happens.
	ErrEmptyQuery = errors.New("retriever: query is required")
	// ErrMissingTenant rejects requests with no tenant scope.
	ErrMissingTenant = errors.New("retriever: tenant is required")
)

const (
	defaultTopK        = 5
	defaultFallbackTop = 3
	defaultCacheSize   = 256
	defaultCacheTTL    = 30 * time.Second
)

// Config tunes context building.
type Config struct {
	CollectionPrefix string
	// TopK is the default candidate count when the caller passes none.
	TopK int
	// MinScore is the similarity threshold; candidates below it are
	// dropped unless the adaptive fallback engages.
	MinScore float64
	// FallbackTop bounds how many sub-threshold candidates the adaptive
	// fallback keeps.
	FallbackTop int
	// MaxTokens caps the estimated token size of a bundle. Zero disables
	// the cap. The highest-scoring match is always kept.
	MaxTokens int
	// SearchTimeout bounds the vector store search. Zero disables the
	// deadline.
	SearchTimeout time.Duration
	CacheSize     int
	CacheTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.FallbackTop <= 0 {
		c.FallbackTop = defaultFallbackTop
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	return c
}

// ContextMatch is one chunk selected into a bundle.
type ContextMatch struct {
	PointID    string         `json:"point_id"`
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ContextBundle is the sole handoff to answer-generation collaborators.
// FallbackUsed marks bundles assembled from sub-threshold candidates so
// callers can distinguish best-effort context from high-confidence context.
type ContextBundle struct {
	Matches          []ContextMatch `json:"matches"`
	AvgSimilarity    float64        `json:"avg_similarity"`
	ChunkCount       int            `json:"chunk_count"`
	SearchTimeMs     int64          `json:"search_time_ms"`
	ContextAvailable bool           `json:"context_available"`
	FallbackUsed     bool           `json:"fallback_used"`
}

// ContextBuilder answers retrieval queries. A short-TTL cache absorbs
// repeated identical queries without touching the embedder or the store.
type ContextBuilder struct {
	embed   *embedder.Adapter
	vectors vectordb.Store
	cache   *expirable.LRU[string, *ContextBundle]
	cfg     Config
	tracer  trace.Tracer
}

// New wires a context builder.
func New(embed *embedder.Adapter, vectors vectordb.Store, cfg Config) (*ContextBuilder, error) {
	if embed == nil {
		return nil, errors.New("retriever: embedder is required")
	}
	if vectors == nil {
		return nil, errors.New("retriever: vector store is required")
	}
	cfg = cfg.withDefaults()
	return &ContextBuilder{
		embed:   embed,
		vectors: vectors,
		cache:   expirable.NewLRU[string, *ContextBundle](cfg.CacheSize, nil, cfg.CacheTTL),
		cfg:     cfg,
		tracer:  otel.Tracer("ragline.rag.retriever"),
	}, nil
}

// Build produces a context bundle for one query.
func (b *ContextBuilder) Build(
	ctx context.Context,
	tenantID, namespace, query string,
	topK int,
) (bundle *ContextBundle, err error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrMissingTenant
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = b.cfg.TopK
	}
	key := cacheKey(tenantID, namespace, query, topK)
	if cached, ok := b.cache.Get(key); ok {
		return cached, nil
	}
	log := logger.FromContext(ctx).With("tenant_id", tenantID, "namespace", namespace)
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "ragline.rag.retriever.build", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	))
	defer b.finishBuild(span, start, &bundle, &err)

	vector := b.embedQuery(ctx, query)
	matches, err := b.searchMatches(ctx, tenantID, namespace, vector, topK)
	if err != nil {
		return nil, err
	}
	sortMatches(matches)
	selected, fallback := b.applyThreshold(matches)
	selected = b.applyTokenBudget(selected)
	if fallback {
		log.Warn("All candidates scored below threshold, using best-effort context",
			"candidates", len(matches),
			"min_score", b.cfg.MinScore,
		)
	}
	bundle = &ContextBundle{
		Matches:          buildMatches(selected),
		AvgSimilarity:    avgScore(selected),
		ChunkCount:       len(selected),
		SearchTimeMs:     time.Since(start).Milliseconds(),
		ContextAvailable: len(selected) > 0,
		FallbackUsed:     fallback,
	}
	b.cache.Add(key, bundle)
	recordQuery(ctx, tenantID, time.Since(start), fallback)
	return bundle, nil
}

func (b *ContextBuilder) embedQuery(ctx context.Context, query string) []float32 {
	spanCtx, span := b.tracer.Start(ctx, "ragline.rag.retriever.embed_query")
	defer span.End()
	result := b.embed.Embed(spanCtx, query)
	span.SetAttributes(attribute.String("embedding_source", string(result.Source)))
	return result.Vector
}

func (b *ContextBuilder) searchMatches(
	ctx context.Context,
	tenantID, namespace string,
	vector []float32,
	topK int,
) ([]vectordb.Match, error) {
	collection, err := vectordb.CollectionName(b.cfg.CollectionPrefix, tenantID, namespace)
	if err != nil {
		return nil, fmt.Errorf("retriever: %w", err)
	}
	spanCtx, span := b.tracer.Start(ctx, "ragline.rag.retriever.vector_search", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("top_k", topK),
	))
	defer span.End()
	if b.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		spanCtx, cancel = context.WithTimeout(spanCtx, b.cfg.SearchTimeout)
		defer cancel()
	}
	matches, err := b.vectors.Search(spanCtx, collection, vector, vectordb.SearchOptions{
		TopK:   topK,
		Filter: map[string]any{vectordb.PayloadFieldTenant: tenantID},
	})
	if errors.Is(err, vectordb.ErrCollectionNotFound) {
		// Nothing was ever ingested for this scope; an empty bundle is
		// the right answer.
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retriever: search: %w", err)
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

// applyThreshold drops sub-threshold candidates. When every candidate is
// below the threshold but candidates exist, the top FallbackTop are kept
// anyway: weak context beats no context, and the caller sees the flag.
func (b *ContextBuilder) applyThreshold(matches []vectordb.Match) ([]vectordb.Match, bool) {
	if len(matches) == 0 {
		return nil, false
	}
	filtered := make([]vectordb.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= b.cfg.MinScore {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > 0 {
		return filtered, false
	}
	top := b.cfg.FallbackTop
	if top > len(matches) {
		top = len(matches)
	}
	return matches[:top], true
}

// applyTokenBudget trims the tail of the selection once the estimated
// token total exceeds MaxTokens. The top match always survives so a
// single oversized chunk cannot empty the bundle.
func (b *ContextBuilder) applyTokenBudget(matches []vectordb.Match) []vectordb.Match {
	if b.cfg.MaxTokens <= 0 || len(matches) == 0 {
		return matches
	}
	total := 0
	for i, m := range matches {
		total += estimateTokens(stringPayload(m.Payload, "text"))
		if total > b.cfg.MaxTokens && i > 0 {
			return matches[:i]
		}
	}
	return matches
}

// estimateTokens approximates tokens as four characters each.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func (b *ContextBuilder) finishBuild(span trace.Span, start time.Time, bundle **ContextBundle, runErr *error) {
	if runErr != nil && *runErr != nil {
		span.RecordError(*runErr)
		span.SetStatus(codes.Error, (*runErr).Error())
		span.End()
		return
	}
	if bundle != nil && *bundle != nil {
		span.SetAttributes(
			attribute.Int("chunks", (*bundle).ChunkCount),
			attribute.Bool("fallback_used", (*bundle).FallbackUsed),
			attribute.Float64("duration_seconds", time.Since(start).Seconds()),
		)
	}
	span.End()
}

func buildMatches(matches []vectordb.Match) []ContextMatch {
	if len(matches) == 0 {
		return nil
	}
	out := make([]ContextMatch, len(matches))
	for i, m := range matches {
		out[i] = ContextMatch{
			PointID:    m.ID,
			DocumentID: stringPayload(m.Payload, "document_id"),
			ChunkIndex: intPayload(m.Payload, "chunk_index"),
			Text:       stringPayload(m.Payload, "text"),
			Score:      m.Score,
			Payload:    m.Payload,
		}
	}
	return out
}

func avgScore(matches []vectordb.Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	total := 0.0
	for _, m := range matches {
		total += m.Score
	}
	return total / float64(len(matches))
}

func sortMatches(matches []vectordb.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}

func cacheKey(tenantID, namespace, query string, topK int) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(query)))
	return hex.EncodeToString(h.Sum(nil))
}

func stringPayload(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func intPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

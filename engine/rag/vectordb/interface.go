// Package vectordb abstracts the external vector database into
// tenant-scoped collections of points. Providers normalize their native
// response shapes into the types defined here.
package vectordb

import (
	"context"
	"errors"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	ProviderQdrant   Provider = "qdrant"
	ProviderPGVector Provider = "pgvector"
	ProviderMemory   Provider = "memory"
)

// Metric names the distance function used by a collection.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricEuclid Metric = "euclid"
	MetricDot    Metric = "dot"
)

// ErrUnavailable is returned by read operations when the backing database
// could not be reached at construction time.
var ErrUnavailable = errors.New("vectordb: backend unavailable")

// ErrCollectionNotFound marks reads against a collection that was never
// created. Search callers treat it as an empty result set: a tenant that
// ingested nothing has no matches, not a broken query.
var ErrCollectionNotFound = errors.New("vectordb: collection not found")

// Point is one vector database record.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Provenance distinguishes genuine filtered matches from the diagnostic
// unfiltered retry.
type Provenance string

const (
	ProvenanceFiltered   Provenance = "filtered"
	ProvenanceUnfiltered Provenance = "unfiltered-debug"
)

// Match is one similarity search result.
type Match struct {
	ID         string
	Score      float64
	Payload    map[string]any
	Provenance Provenance
}

// Selector narrows delete/scroll/count operations to explicit point IDs,
// exact payload matches, or both.
type Selector struct {
	IDs   []string
	Match map[string]any
}

// IsEmpty reports whether the selector matches everything.
func (s Selector) IsEmpty() bool {
	return len(s.IDs) == 0 && len(s.Match) == 0
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK   int
	Filter map[string]any
}

// UpsertResult reports which points a batched upsert accepted.
type UpsertResult struct {
	PointIDs     []string
	OperationIDs []int64
}

// ScrollPage is one page of a scroll traversal. NextCursor is empty when
// the traversal is exhausted.
type ScrollPage struct {
	Points     []Point
	NextCursor string
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name       string
	VectorSize int
	Metric     Metric
	PointCount int
}

// Store is the provider-neutral vector database contract. Collection
// lifecycle operations are idempotent: already-exists and not-found are
// treated as success since callers may race.
type Store interface {
	// EnsureCollection creates the collection if missing and guarantees a
	// payload index on the tenant id field.
	EnsureCollection(ctx context.Context, name string, vectorSize int, metric Metric) error
	CreateCollection(ctx context.Context, name string, vectorSize int, metric Metric) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	// Upsert writes points in bounded batches. Idempotent on point ID.
	Upsert(ctx context.Context, collection string, points []Point) (*UpsertResult, error)
	Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]Match, error)
	// SearchBatch preserves input order; a nil or empty query vector yields
	// an empty match list instead of aborting the batch.
	SearchBatch(ctx context.Context, collection string, vectors [][]float32, opts SearchOptions) ([][]Match, error)
	// Query runs one of the constrained query shapes (vector, recommend,
	// hybrid, grouped). Providers that cannot express a shape return an
	// error rather than approximating it.
	Query(ctx context.Context, collection string, query Query, opts SearchOptions) ([]Match, error)
	Delete(ctx context.Context, collection string, selector Selector) error
	Scroll(ctx context.Context, collection string, selector Selector, limit int, cursor string) (*ScrollPage, error)
	Count(ctx context.Context, collection string, selector Selector) (int, error)
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error
	// UpdateVectors replaces vectors for existing points without touching
	// their payloads.
	UpdateVectors(ctx context.Context, collection string, points []Point) error
	Healthy(ctx context.Context) error
	Close(ctx context.Context) error
}

// OpResult is the stable envelope callers receive for vector store
// operations whose native responses vary by provider.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// OK wraps data in a successful OpResult.
func OK(message string, data any) OpResult {
	return OpResult{Success: true, Message: message, Data: data}
}

// Failed wraps an error in a failed OpResult.
func Failed(err error) OpResult {
	return OpResult{Success: false, Message: err.Error()}
}

// PayloadFieldTenant is the payload key every provider indexes for
// filtered queries.
const PayloadFieldTenant = "tenant_id"

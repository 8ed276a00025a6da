package vectordb

import (
	"context"

	"github.com/ragline/ragline/pkg/logger"
)

// UnavailableStore stands in when the backing database cannot be reached
// at construction time. Writes report success with empty effect so
// ingestion keeps running; reads return empty results. Healthy always
// fails so the degradation stays visible to health checks.
type UnavailableStore struct {
	cause error
}

// NewUnavailableStore wraps the connection error that forced degraded mode.
func NewUnavailableStore(cause error) *UnavailableStore {
	return &UnavailableStore{cause: cause}
}

func (s *UnavailableStore) warn(ctx context.Context, op string) {
	logger.FromContext(ctx).Warn("vector store unavailable, operation skipped",
		"operation", op, "cause", s.cause)
}

func (s *UnavailableStore) EnsureCollection(ctx context.Context, name string, _ int, _ Metric) error {
	s.warn(ctx, "ensure_collection")
	return nil
}

func (s *UnavailableStore) CreateCollection(ctx context.Context, _ string, _ int, _ Metric) error {
	s.warn(ctx, "create_collection")
	return nil
}

func (s *UnavailableStore) DeleteCollection(ctx context.Context, _ string) error {
	s.warn(ctx, "delete_collection")
	return nil
}

func (s *UnavailableStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	s.warn(ctx, "collection_info")
	return &CollectionInfo{Name: name}, nil
}

func (s *UnavailableStore) Upsert(ctx context.Context, _ string, _ []Point) (*UpsertResult, error) {
	s.warn(ctx, "upsert")
	return &UpsertResult{}, nil
}

func (s *UnavailableStore) Search(ctx context.Context, _ string, _ []float32, _ SearchOptions) ([]Match, error) {
	s.warn(ctx, "search")
	return []Match{}, nil
}

func (s *UnavailableStore) SearchBatch(ctx context.Context, _ string, vectors [][]float32, _ SearchOptions) ([][]Match, error) {
	s.warn(ctx, "search_batch")
	results := make([][]Match, len(vectors))
	for i := range results {
		results[i] = []Match{}
	}
	return results, nil
}

func (s *UnavailableStore) Query(ctx context.Context, _ string, query Query, _ SearchOptions) ([]Match, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	s.warn(ctx, "query")
	return []Match{}, nil
}

func (s *UnavailableStore) Delete(ctx context.Context, _ string, _ Selector) error {
	s.warn(ctx, "delete")
	return nil
}

func (s *UnavailableStore) Scroll(ctx context.Context, _ string, _ Selector, _ int, _ string) (*ScrollPage, error) {
	s.warn(ctx, "scroll")
	return &ScrollPage{}, nil
}

func (s *UnavailableStore) Count(ctx context.Context, _ string, _ Selector) (int, error) {
	s.warn(ctx, "count")
	return 0, nil
}

func (s *UnavailableStore) SetPayload(ctx context.Context, _ string, _ []string, _ map[string]any) error {
	s.warn(ctx, "set_payload")
	return nil
}

func (s *UnavailableStore) UpdateVectors(ctx context.Context, _ string, _ []Point) error {
	s.warn(ctx, "update_vectors")
	return nil
}

func (s *UnavailableStore) Healthy(context.Context) error {
	return ErrUnavailable
}

func (s *UnavailableStore) Close(context.Context) error { return nil }

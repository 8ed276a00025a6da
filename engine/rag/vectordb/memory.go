package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ragline/ragline/engine/core"
)

// MemoryStore is a process-local Store used by tests and the sync
// ingestion path in development. It scores with the configured metric and
// honors the same selector semantics as the remote providers.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	vectorSize int
	metric     Metric
	points     map[string]Point
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, vectorSize int, metric Metric) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &memoryCollection{
			vectorSize: vectorSize,
			metric:     metric,
			points:     make(map[string]Point),
		}
	}
	return nil
}

func (s *MemoryStore) CreateCollection(ctx context.Context, name string, vectorSize int, metric Metric) error {
	return s.EnsureCollection(ctx, name, vectorSize, metric)
}

func (s *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) CollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("memory: collection %q: %w", name, ErrCollectionNotFound)
	}
	return &CollectionInfo{
		Name:       name,
		VectorSize: coll.vectorSize,
		Metric:     coll.metric,
		PointCount: len(coll.points),
	}, nil
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, points []Point) (*UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	result := &UpsertResult{}
	for i := range points {
		p := points[i]
		if coll.vectorSize > 0 && len(p.Vector) != coll.vectorSize {
			return nil, fmt.Errorf("memory: point %q dimension %d does not match collection size %d",
				p.ID, len(p.Vector), coll.vectorSize)
		}
		coll.points[p.ID] = Point{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: core.CloneMap(p.Payload),
		}
		result.PointIDs = append(result.PointIDs, p.ID)
	}
	result.OperationIDs = []int64{int64(len(result.PointIDs))}
	return result, nil
}

func (s *MemoryStore) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]Match, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return coll.search(vector, opts), nil
}

func (s *MemoryStore) SearchBatch(ctx context.Context, collection string, vectors [][]float32, opts SearchOptions) ([][]Match, error) {
	results := make([][]Match, len(vectors))
	for i, vector := range vectors {
		if len(vector) == 0 {
			results[i] = []Match{}
			continue
		}
		matches, err := s.Search(ctx, collection, vector, opts)
		if err != nil {
			return nil, err
		}
		results[i] = matches
	}
	return results, nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, query Query, opts SearchOptions) ([]Match, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	switch {
	case len(query.Vector) > 0:
		return coll.search(query.Vector, opts), nil
	case query.Recommend != nil:
		vector, err := coll.recommendVector(query.Recommend)
		if err != nil {
			return nil, err
		}
		matches := coll.search(vector, opts)
		return withoutIDs(matches, query.Recommend.Positive), nil
	case query.Hybrid != nil:
		matches := coll.search(query.Hybrid.Vector, SearchOptions{TopK: 0, Filter: opts.Filter})
		filtered := make([]Match, 0, len(matches))
		for _, m := range matches {
			if text, ok := m.Payload[query.Hybrid.Field].(string); ok && containsFold(text, query.Hybrid.Text) {
				filtered = append(filtered, m)
			}
		}
		return limitMatches(filtered, opts.TopK), nil
	default:
		matches := coll.search(query.Grouped.Vector, SearchOptions{TopK: 0, Filter: opts.Filter})
		return groupMatches(matches, query.Grouped, opts.TopK), nil
	}
}

func (s *MemoryStore) Delete(_ context.Context, collection string, selector Selector) error {
	if selector.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for id, p := range coll.points {
		if selectorMatches(selector, id, p.Payload) {
			delete(coll.points, id)
		}
	}
	return nil
}

func (s *MemoryStore) Scroll(_ context.Context, collection string, selector Selector, limit int, cursor string) (*ScrollPage, error) {
	if limit <= 0 {
		limit = 64
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(coll.points))
	for id, p := range coll.points {
		if selector.IsEmpty() || selectorMatches(selector, id, p.Payload) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	page := &ScrollPage{}
	for _, id := range ids {
		if cursor != "" && id < cursor {
			continue
		}
		if len(page.Points) == limit {
			page.NextCursor = id
			break
		}
		p := coll.points[id]
		page.Points = append(page.Points, Point{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: core.CloneMap(p.Payload),
		})
	}
	return page, nil
}

func (s *MemoryStore) Count(_ context.Context, collection string, selector Selector) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	if selector.IsEmpty() {
		return len(coll.points), nil
	}
	count := 0
	for id, p := range coll.points {
		if selectorMatches(selector, id, p.Payload) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SetPayload(_ context.Context, collection string, ids []string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, ok := coll.points[id]
		if !ok {
			continue
		}
		if p.Payload == nil {
			p.Payload = make(map[string]any)
		}
		for key, value := range payload {
			p.Payload[key] = value
		}
		coll.points[id] = p
	}
	return nil
}

func (s *MemoryStore) UpdateVectors(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}
	for i := range points {
		existing, ok := coll.points[points[i].ID]
		if !ok {
			continue
		}
		existing.Vector = append([]float32(nil), points[i].Vector...)
		coll.points[points[i].ID] = existing
	}
	return nil
}

func (s *MemoryStore) Healthy(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error { return nil }

func (s *MemoryStore) collection(name string) (*memoryCollection, error) {
	coll, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("memory: collection %q: %w", name, ErrCollectionNotFound)
	}
	return coll, nil
}

func (c *memoryCollection) search(vector []float32, opts SearchOptions) []Match {
	matches := make([]Match, 0, len(c.points))
	for id, p := range c.points {
		if len(opts.Filter) > 0 && !payloadMatches(opts.Filter, p.Payload) {
			continue
		}
		matches = append(matches, Match{
			ID:         id,
			Score:      score(c.metric, vector, p.Vector),
			Payload:    core.CloneMap(p.Payload),
			Provenance: ProvenanceFiltered,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return limitMatches(matches, opts.TopK)
}

func (c *memoryCollection) recommendVector(q *RecommendQuery) ([]float32, error) {
	centroid := make([]float32, c.vectorSize)
	found := 0
	for _, id := range q.Positive {
		if p, ok := c.points[id]; ok {
			addScaled(centroid, p.Vector, 1)
			found++
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("memory: no positive points found for recommend query")
	}
	for _, id := range q.Negative {
		if p, ok := c.points[id]; ok {
			addScaled(centroid, p.Vector, -1)
		}
	}
	return centroid, nil
}

func addScaled(dst, src []float32, scale float32) {
	for i := range dst {
		if i < len(src) {
			dst[i] += src[i] * scale
		}
	}
}

func limitMatches(matches []Match, topK int) []Match {
	if topK > 0 && len(matches) > topK {
		return matches[:topK]
	}
	return matches
}

func withoutIDs(matches []Match, ids []string) []Match {
	excluded := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		excluded[id] = struct{}{}
	}
	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if _, ok := excluded[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	return kept
}

func groupMatches(matches []Match, q *GroupedQuery, topK int) []Match {
	groupSize := q.GroupSize
	if groupSize <= 0 {
		groupSize = 1
	}
	seen := make(map[string]int)
	grouped := make([]Match, 0, len(matches))
	for _, m := range matches {
		key := fmt.Sprint(m.Payload[q.GroupBy])
		if seen[key] >= groupSize {
			continue
		}
		seen[key]++
		grouped = append(grouped, m)
	}
	return limitMatches(grouped, topK)
}

func selectorMatches(selector Selector, id string, payload map[string]any) bool {
	if len(selector.IDs) > 0 {
		found := false
		for _, want := range selector.IDs {
			if want == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return payloadMatches(selector.Match, payload)
}

func payloadMatches(want, payload map[string]any) bool {
	for key, value := range want {
		if fmt.Sprint(payload[key]) != fmt.Sprint(value) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func score(metric Metric, query, candidate []float32) float64 {
	switch metric {
	case MetricEuclid:
		var sum float64
		for i := range query {
			if i >= len(candidate) {
				break
			}
			d := float64(query[i]) - float64(candidate[i])
			sum += d * d
		}
		// Convert distance to a similarity so higher is always better.
		return 1 / (1 + math.Sqrt(sum))
	case MetricDot:
		return dot(query, candidate)
	default:
		denom := math.Sqrt(dot(query, query)) * math.Sqrt(dot(candidate, candidate))
		if denom == 0 {
			return 0
		}
		return dot(query, candidate) / denom
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

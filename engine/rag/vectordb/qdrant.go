package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/pkg/logger"
)

const (
	qdrantDefaultTimeout   = 10 * time.Second
	qdrantDefaultTopK      = 5
	qdrantDefaultBatchSize = 100
)

// QdrantConfig configures the HTTP client for a Qdrant deployment.
type QdrantConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	UpsertBatchSize int
}

// QdrantStore talks to Qdrant over its REST API.
type QdrantStore struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	batchSize int
}

// NewQdrantStore builds a Qdrant-backed store. It does not touch the
// network; use Healthy to verify connectivity.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: config is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("qdrant: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	batchSize := cfg.UpsertBatchSize
	if batchSize <= 0 {
		batchSize = qdrantDefaultBatchSize
	}
	return &QdrantStore{
		client:    &http.Client{Timeout: timeout},
		baseURL:   base,
		apiKey:    cfg.APIKey,
		batchSize: batchSize,
	}, nil
}

// qdrantPoint mirrors the wire shape of one point with payload.
type qdrantPoint struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Score   float64        `json:"score,omitempty"`
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorSize int, metric Metric) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.CreateCollection(ctx, name, vectorSize, metric); err != nil {
			return err
		}
	}
	return s.ensureTenantIndex(ctx, name)
}

func (s *QdrantStore) CreateCollection(ctx context.Context, name string, vectorSize int, metric Metric) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": qdrantDistance(metric),
		},
	}
	err := s.doRequest(ctx, http.MethodPut, "/collections/"+name, body, nil)
	// Concurrent callers may race the create; an existing collection is
	// the outcome we wanted.
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	return err
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	err := s.doRequest(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (s *QdrantStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	var response struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.doRequest(ctx, http.MethodGet, "/collections/"+name, nil, &response); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:       name,
		VectorSize: response.Result.Config.Params.Vectors.Size,
		Metric:     metricFromDistance(response.Result.Config.Params.Vectors.Distance),
		PointCount: response.Result.PointsCount,
	}, nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) (*UpsertResult, error) {
	result := &UpsertResult{}
	if len(points) == 0 {
		return result, nil
	}
	for start := 0; start < len(points); start += s.batchSize {
		end := start + s.batchSize
		if end > len(points) {
			end = len(points)
		}
		opID, err := s.upsertBatch(ctx, collection, points[start:end])
		if err != nil {
			return nil, fmt.Errorf("qdrant: upsert batch %d-%d: %w", start, end, err)
		}
		result.OperationIDs = append(result.OperationIDs, opID)
		for _, p := range points[start:end] {
			result.PointIDs = append(result.PointIDs, p.ID)
		}
	}
	return result, nil
}

func (s *QdrantStore) upsertBatch(ctx context.Context, collection string, points []Point) (int64, error) {
	wire := make([]qdrantPoint, 0, len(points))
	for i := range points {
		wire = append(wire, qdrantPoint{
			ID:      points[i].ID,
			Vector:  points[i].Vector,
			Payload: points[i].Payload,
		})
	}
	var response struct {
		Result struct {
			OperationID int64  `json:"operation_id"`
			Status      string `json:"status"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
	if err := s.doRequest(ctx, http.MethodPut, path, map[string]any{"points": wire}, &response); err != nil {
		return 0, err
	}
	return response.Result.OperationID, nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]Match, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	request := map[string]any{
		"vector":       vector,
		"limit":        topKOrDefault(opts.TopK),
		"with_payload": true,
	}
	if filter := buildFilter(Selector{Match: opts.Filter}); filter != nil {
		request["filter"] = filter
	}
	var response struct {
		Result []qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", collection)
	if err := s.doRequest(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, missingCollection(collection, err)
	}
	return mapMatches(response.Result), nil
}

func (s *QdrantStore) SearchBatch(ctx context.Context, collection string, vectors [][]float32, opts SearchOptions) ([][]Match, error) {
	results := make([][]Match, len(vectors))
	searches := make([]map[string]any, 0, len(vectors))
	positions := make([]int, 0, len(vectors))
	for i, vector := range vectors {
		if len(vector) == 0 {
			results[i] = []Match{}
			continue
		}
		request := map[string]any{
			"vector":       vector,
			"limit":        topKOrDefault(opts.TopK),
			"with_payload": true,
		}
		if filter := buildFilter(Selector{Match: opts.Filter}); filter != nil {
			request["filter"] = filter
		}
		searches = append(searches, request)
		positions = append(positions, i)
	}
	if len(searches) == 0 {
		return results, nil
	}
	var response struct {
		Result [][]qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search/batch", collection)
	if err := s.doRequest(ctx, http.MethodPost, path, map[string]any{"searches": searches}, &response); err != nil {
		return nil, missingCollection(collection, err)
	}
	if len(response.Result) != len(searches) {
		return nil, fmt.Errorf("qdrant: batch returned %d result lists for %d searches", len(response.Result), len(searches))
	}
	for i, hits := range response.Result {
		results[positions[i]] = mapMatches(hits)
	}
	return results, nil
}

func (s *QdrantStore) Query(ctx context.Context, collection string, query Query, opts SearchOptions) ([]Match, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	switch {
	case len(query.Vector) > 0:
		return s.Search(ctx, collection, query.Vector, opts)
	case query.Recommend != nil:
		return s.recommend(ctx, collection, query.Recommend, opts)
	case query.Hybrid != nil:
		return s.hybrid(ctx, collection, query.Hybrid, opts)
	default:
		return s.grouped(ctx, collection, query.Grouped, opts)
	}
}

func (s *QdrantStore) recommend(ctx context.Context, collection string, q *RecommendQuery, opts SearchOptions) ([]Match, error) {
	request := map[string]any{
		"positive":     q.Positive,
		"limit":        topKOrDefault(opts.TopK),
		"with_payload": true,
	}
	if len(q.Negative) > 0 {
		request["negative"] = q.Negative
	}
	if filter := buildFilter(Selector{Match: opts.Filter}); filter != nil {
		request["filter"] = filter
	}
	var response struct {
		Result []qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/recommend", collection)
	if err := s.doRequest(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, missingCollection(collection, err)
	}
	return mapMatches(response.Result), nil
}

// hybrid narrows a dense search with a full-text payload condition rather
// than running a separate sparse query.
func (s *QdrantStore) hybrid(ctx context.Context, collection string, q *HybridQuery, opts SearchOptions) ([]Match, error) {
	must := []any{
		map[string]any{"key": q.Field, "match": map[string]any{"text": q.Text}},
	}
	if filter := buildFilter(Selector{Match: opts.Filter}); filter != nil {
		if more, ok := filter["must"].([]any); ok {
			must = append(must, more...)
		}
	}
	request := map[string]any{
		"vector":       q.Vector,
		"limit":        topKOrDefault(opts.TopK),
		"with_payload": true,
		"filter":       map[string]any{"must": must},
	}
	var response struct {
		Result []qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", collection)
	if err := s.doRequest(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, missingCollection(collection, err)
	}
	return mapMatches(response.Result), nil
}

func (s *QdrantStore) grouped(ctx context.Context, collection string, q *GroupedQuery, opts SearchOptions) ([]Match, error) {
	groupSize := q.GroupSize
	if groupSize <= 0 {
		groupSize = 1
	}
	request := map[string]any{
		"vector":       q.Vector,
		"group_by":     q.GroupBy,
		"group_size":   groupSize,
		"limit":        topKOrDefault(opts.TopK),
		"with_payload": true,
	}
	if filter := buildFilter(Selector{Match: opts.Filter}); filter != nil {
		request["filter"] = filter
	}
	var response struct {
		Result struct {
			Groups []struct {
				Hits []qdrantPoint `json:"hits"`
			} `json:"groups"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search/groups", collection)
	if err := s.doRequest(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, missingCollection(collection, err)
	}
	matches := make([]Match, 0, len(response.Result.Groups))
	for _, group := range response.Result.Groups {
		matches = append(matches, mapMatches(group.Hits)...)
	}
	return matches, nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, selector Selector) error {
	if selector.IsEmpty() {
		return nil
	}
	request := map[string]any{}
	if len(selector.IDs) > 0 {
		request["points"] = selector.IDs
	} else if filter := buildFilter(selector); filter != nil {
		request["filter"] = filter
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	err := s.doRequest(ctx, http.MethodPost, path, request, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (s *QdrantStore) Scroll(ctx context.Context, collection string, selector Selector, limit int, cursor string) (*ScrollPage, error) {
	if limit <= 0 {
		limit = 64
	}
	request := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if cursor != "" {
		request["offset"] = cursor
	}
	if filter := buildFilter(selector); filter != nil {
		request["filter"] = filter
	}
	var response struct {
		Result struct {
			Points         []qdrantPoint `json:"points"`
			NextPageOffset any           `json:"next_page_offset"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", collection)
	if err := s.doRequest(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, err
	}
	page := &ScrollPage{Points: make([]Point, 0, len(response.Result.Points))}
	for _, p := range response.Result.Points {
		page.Points = append(page.Points, Point{
			ID:      fmt.Sprint(p.ID),
			Vector:  p.Vector,
			Payload: core.CloneMap(p.Payload),
		})
	}
	if response.Result.NextPageOffset != nil {
		page.NextCursor = fmt.Sprint(response.Result.NextPageOffset)
	}
	return page, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string, selector Selector) (int, error) {
	request := map[string]any{"exact": true}
	if filter := buildFilter(selector); filter != nil {
		request["filter"] = filter
	}
	var response struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", collection)
	if err := s.doRequest(ctx, http.MethodPost, path, request, &response); err != nil {
		return 0, err
	}
	return response.Result.Count, nil
}

func (s *QdrantStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	if len(ids) == 0 || len(payload) == 0 {
		return nil
	}
	request := map[string]any{
		"payload": payload,
		"points":  ids,
	}
	path := fmt.Sprintf("/collections/%s/points/payload?wait=true", collection)
	return s.doRequest(ctx, http.MethodPost, path, request, nil)
}

func (s *QdrantStore) UpdateVectors(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]map[string]any, 0, len(points))
	for i := range points {
		wire = append(wire, map[string]any{
			"id":     points[i].ID,
			"vector": points[i].Vector,
		})
	}
	path := fmt.Sprintf("/collections/%s/points/vectors?wait=true", collection)
	return s.doRequest(ctx, http.MethodPut, path, map[string]any{"points": wire}, nil)
}

func (s *QdrantStore) Healthy(ctx context.Context) error {
	return s.doRequest(ctx, http.MethodGet, "/collections", nil, nil)
}

func (s *QdrantStore) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	err := s.doRequest(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *QdrantStore) ensureTenantIndex(ctx context.Context, name string) error {
	body := map[string]any{
		"field_name":   PayloadFieldTenant,
		"field_schema": "keyword",
	}
	path := fmt.Sprintf("/collections/%s/index?wait=true", name)
	err := s.doRequest(ctx, http.MethodPut, path, body, nil)
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	if err != nil {
		// An index failure degrades filtered query performance but the
		// collection itself is usable.
		logger.FromContext(ctx).Warn("failed to ensure tenant payload index",
			"collection", name, "error", err)
		return nil
	}
	return nil
}

type qdrantError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant: %s (%d): %s", e.Message, e.StatusCode, e.Status)
}

func isNotFound(err error) bool {
	var qe *qdrantError
	return errors.As(err, &qe) && qe.StatusCode == http.StatusNotFound
}

// missingCollection converts a 404 on a search path into the shared
// collection-not-found sentinel.
func missingCollection(collection string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("qdrant: collection %q: %w", collection, ErrCollectionNotFound)
	}
	return err
}

func isAlreadyExists(err error) bool {
	var qe *qdrantError
	if !errors.As(err, &qe) {
		return false
	}
	return qe.StatusCode == http.StatusConflict ||
		strings.Contains(strings.ToLower(qe.Message), "already exists")
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, body, out any) error {
	var buf *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal request: %w", err)
		}
		buf = bytes.NewReader(payload)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("qdrant: read response: %w", readErr)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Status struct {
				Error string `json:"error"`
			} `json:"status"`
		}
		message := http.StatusText(resp.StatusCode)
		status := ""
		if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Status.Error != "" {
			message = apiErr.Status.Error
			status = "error"
		}
		return &qdrantError{StatusCode: resp.StatusCode, Status: status, Message: message}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}

func qdrantDistance(metric Metric) string {
	switch metric {
	case MetricEuclid:
		return "Euclid"
	case MetricDot:
		return "Dot"
	default:
		return "Cosine"
	}
}

func metricFromDistance(distance string) Metric {
	switch strings.ToLower(distance) {
	case "euclid":
		return MetricEuclid
	case "dot":
		return MetricDot
	default:
		return MetricCosine
	}
}

func topKOrDefault(topK int) int {
	if topK <= 0 {
		return qdrantDefaultTopK
	}
	return topK
}

// buildFilter converts a selector into the Qdrant filter payload.
func buildFilter(selector Selector) map[string]any {
	must := make([]any, 0, len(selector.Match)+1)
	if len(selector.IDs) > 0 {
		must = append(must, map[string]any{"has_id": selector.IDs})
	}
	for key, value := range selector.Match {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func mapMatches(points []qdrantPoint) []Match {
	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, Match{
			ID:         fmt.Sprint(p.ID),
			Score:      p.Score,
			Payload:    core.CloneMap(p.Payload),
			Provenance: ProvenanceFiltered,
		})
	}
	return matches
}

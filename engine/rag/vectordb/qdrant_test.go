package vectordb_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/engine/rag/vectordb"
)

type qdrantRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

func (r *qdrantRecorder) record(req *http.Request) recordedRequest {
	rec := recordedRequest{Method: req.Method, Path: req.URL.Path}
	if req.Body != nil {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err == nil {
			rec.Body = body
		}
	}
	r.mu.Lock()
	r.requests = append(r.requests, rec)
	r.mu.Unlock()
	return rec
}

func (r *qdrantRecorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		paths = append(paths, req.Method+" "+req.Path)
	}
	return paths
}

func newQdrantStore(t *testing.T, handler http.HandlerFunc) *vectordb.QdrantStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	store, err := vectordb.NewQdrantStore(&vectordb.QdrantConfig{
		BaseURL:         server.URL,
		Timeout:         5 * time.Second,
		UpsertBatchSize: 2,
	})
	require.NoError(t, err)
	return store
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestQdrantStore_EnsureCollection(t *testing.T) {
	t.Run("Should create a missing collection and its tenant index", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			rec := recorder.record(r)
			switch {
			case rec.Method == http.MethodGet && rec.Path == "/collections/ragline_acme_docs":
				writeJSON(w, http.StatusNotFound, map[string]any{"status": map[string]any{"error": "not found"}})
			default:
				writeJSON(w, http.StatusOK, map[string]any{"result": true, "status": "ok"})
			}
		})
		err := store.EnsureCollection(context.Background(), "ragline_acme_docs", 3, vectordb.MetricCosine)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"GET /collections/ragline_acme_docs",
			"PUT /collections/ragline_acme_docs",
			"PUT /collections/ragline_acme_docs/index",
		}, recorder.paths())
	})
	t.Run("Should skip creation when the collection exists", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			recorder.record(r)
			writeJSON(w, http.StatusOK, map[string]any{"result": true, "status": "ok"})
		})
		err := store.EnsureCollection(context.Background(), "ragline_acme_docs", 3, vectordb.MetricCosine)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"GET /collections/ragline_acme_docs",
			"PUT /collections/ragline_acme_docs/index",
		}, recorder.paths())
	})
	t.Run("Should reject invalid collection names without a request", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			recorder.record(r)
			writeJSON(w, http.StatusOK, map[string]any{"result": true})
		})
		err := store.EnsureCollection(context.Background(), "Bad Name", 3, vectordb.MetricCosine)
		assert.Error(t, err)
		assert.Empty(t, recorder.paths())
	})
}

func TestQdrantStore_CreateCollection(t *testing.T) {
	t.Run("Should treat already-exists as success", func(t *testing.T) {
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"status": map[string]any{"error": "collection already exists"},
			})
		})
		err := store.CreateCollection(context.Background(), "ragline_acme_docs", 3, vectordb.MetricCosine)
		assert.NoError(t, err)
	})
	t.Run("Should send the distance metric", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			recorder.record(r)
			writeJSON(w, http.StatusOK, map[string]any{"result": true})
		})
		require.NoError(t, store.CreateCollection(context.Background(), "ragline_acme_docs", 3, vectordb.MetricEuclid))
		require.Len(t, recorder.requests, 1)
		vectors := recorder.requests[0].Body["vectors"].(map[string]any)
		assert.Equal(t, "Euclid", vectors["distance"])
		assert.Equal(t, float64(3), vectors["size"])
	})
}

func TestQdrantStore_DeleteCollection(t *testing.T) {
	t.Run("Should treat not-found as success", func(t *testing.T) {
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"status": map[string]any{"error": "collection not found"},
			})
		})
		assert.NoError(t, store.DeleteCollection(context.Background(), "ragline_acme_docs"))
	})
}

func TestQdrantStore_Upsert(t *testing.T) {
	t.Run("Should split points into bounded batches", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		opID := int64(0)
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			recorder.record(r)
			opID++
			writeJSON(w, http.StatusOK, map[string]any{
				"result": map[string]any{"operation_id": opID, "status": "completed"},
			})
		})
		points := []vectordb.Point{
			{ID: "p1", Vector: []float32{1}},
			{ID: "p2", Vector: []float32{2}},
			{ID: "p3", Vector: []float32{3}},
		}
		result, err := store.Upsert(context.Background(), "ragline_acme_docs", points)
		require.NoError(t, err)
		// batch size is 2, so 3 points need 2 requests
		require.Len(t, recorder.requests, 2)
		assert.Equal(t, []string{"p1", "p2", "p3"}, result.PointIDs)
		assert.Equal(t, []int64{1, 2}, result.OperationIDs)
		firstBatch := recorder.requests[0].Body["points"].([]any)
		secondBatch := recorder.requests[1].Body["points"].([]any)
		assert.Len(t, firstBatch, 2)
		assert.Len(t, secondBatch, 1)
	})
	t.Run("Should surface upsert failures", func(t *testing.T) {
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status": map[string]any{"error": "wrong vector size"},
			})
		})
		_, err := store.Upsert(context.Background(), "ragline_acme_docs", []vectordb.Point{{ID: "p1", Vector: []float32{1}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wrong vector size")
	})
}

func TestQdrantStore_Search(t *testing.T) {
	t.Run("Should map results with payload and score", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			recorder.record(r)
			writeJSON(w, http.StatusOK, map[string]any{
				"result": []map[string]any{
					{"id": "p1", "score": 0.92, "payload": map[string]any{"tenant_id": "acme", "chunk_index": 0}},
					{"id": "p2", "score": 0.41, "payload": map[string]any{"tenant_id": "acme", "chunk_index": 1}},
				},
			})
		})
		matches, err := store.Search(context.Background(), "ragline_acme_docs", []float32{1, 0}, vectordb.SearchOptions{
			TopK:   5,
			Filter: map[string]any{"tenant_id": "acme"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "p1", matches[0].ID)
		assert.InDelta(t, 0.92, matches[0].Score, 1e-9)
		assert.Equal(t, "acme", matches[0].Payload["tenant_id"])
		assert.Equal(t, vectordb.ProvenanceFiltered, matches[0].Provenance)
		body := recorder.requests[0].Body
		assert.NotNil(t, body["filter"])
		assert.Equal(t, float64(5), body["limit"])
	})
	t.Run("Should report a missing collection with the shared sentinel", func(t *testing.T) {
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"status": map[string]any{"error": "collection not found"},
			})
		})
		_, err := store.Search(context.Background(), "ragline_acme_docs", []float32{1}, vectordb.SearchOptions{TopK: 5})
		assert.ErrorIs(t, err, vectordb.ErrCollectionNotFound)
	})
}

func TestQdrantStore_SearchBatch(t *testing.T) {
	t.Run("Should keep empty vectors out of the request but in the result", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			recorder.record(r)
			writeJSON(w, http.StatusOK, map[string]any{
				"result": [][]map[string]any{
					{{"id": "p1", "score": 0.9}},
					{{"id": "p3", "score": 0.7}},
				},
			})
		})
		results, err := store.SearchBatch(context.Background(), "ragline_acme_docs",
			[][]float32{{1}, nil, {2}}, vectordb.SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "p1", results[0][0].ID)
		assert.Empty(t, results[1])
		assert.Equal(t, "p3", results[2][0].ID)
		searches := recorder.requests[0].Body["searches"].([]any)
		assert.Len(t, searches, 2)
	})
}

func TestQdrantStore_CountAndScroll(t *testing.T) {
	t.Run("Should read counts from the count endpoint", func(t *testing.T) {
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"count": 7}})
		})
		count, err := store.Count(context.Background(), "ragline_acme_docs", vectordb.Selector{
			Match: map[string]any{"document_id": "doc-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, 7, count)
	})
	t.Run("Should carry the scroll cursor", func(t *testing.T) {
		recorder := &qdrantRecorder{}
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			recorder.record(r)
			writeJSON(w, http.StatusOK, map[string]any{
				"result": map[string]any{
					"points":           []map[string]any{{"id": "p5", "payload": map[string]any{"k": "v"}}},
					"next_page_offset": "p6",
				},
			})
		})
		page, err := store.Scroll(context.Background(), "ragline_acme_docs", vectordb.Selector{}, 1, "p5")
		require.NoError(t, err)
		require.Len(t, page.Points, 1)
		assert.Equal(t, "p5", page.Points[0].ID)
		assert.Equal(t, "p6", page.NextCursor)
		assert.Equal(t, "p5", recorder.requests[0].Body["offset"])
	})
}

func TestQdrantStore_Healthy(t *testing.T) {
	t.Run("Should pass when the API answers", func(t *testing.T) {
		store := newQdrantStore(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"result": map[string]any{"collections": []any{}}})
		})
		assert.NoError(t, store.Healthy(context.Background()))
	})
	t.Run("Should fail when the API is down", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()
		store, err := vectordb.NewQdrantStore(&vectordb.QdrantConfig{BaseURL: server.URL})
		require.NoError(t, err)
		assert.Error(t, store.Healthy(context.Background()))
	})
}

func TestUnavailableStore(t *testing.T) {
	t.Run("Should absorb writes and empty out reads", func(t *testing.T) {
		store := vectordb.NewUnavailableStore(assert.AnError)
		ctx := context.Background()
		require.NoError(t, store.EnsureCollection(ctx, "ragline_acme_docs", 3, vectordb.MetricCosine))
		result, err := store.Upsert(ctx, "ragline_acme_docs", []vectordb.Point{{ID: "p1", Vector: []float32{1}}})
		require.NoError(t, err)
		assert.Empty(t, result.PointIDs)
		matches, err := store.Search(ctx, "ragline_acme_docs", []float32{1}, vectordb.SearchOptions{TopK: 5})
		require.NoError(t, err)
		assert.Empty(t, matches)
		batches, err := store.SearchBatch(ctx, "ragline_acme_docs", [][]float32{{1}, {2}}, vectordb.SearchOptions{})
		require.NoError(t, err)
		require.Len(t, batches, 2)
		assert.Empty(t, batches[0])
	})
	t.Run("Should report unavailable from the health check", func(t *testing.T) {
		store := vectordb.NewUnavailableStore(assert.AnError)
		assert.ErrorIs(t, store.Healthy(context.Background()), vectordb.ErrUnavailable)
	})
}

package embedder_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/engine/rag/embedder"
)

type stubEmbedder struct {
	mu         sync.Mutex
	queryCalls int
	batchCalls int
	fail       bool
	dimension  int
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCalls++
	if s.fail {
		return nil, errors.New("remote unavailable")
	}
	return s.vectorFor(text), nil
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	if s.fail {
		return nil, errors.New("remote unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = s.vectorFor(text)
	}
	return vectors, nil
}

func (s *stubEmbedder) vectorFor(text string) []float32 {
	vector := make([]float32, s.dimension)
	for i := range vector {
		vector[i] = float32(len(text)%7) + float32(i)
	}
	return vector
}

func (s *stubEmbedder) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// slowEmbedder blocks until the call's context expires.
type slowEmbedder struct {
	dimension int
}

func (s *slowEmbedder) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Minute):
		return make([]float32, s.dimension), nil
	}
}

func (s *slowEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Minute):
		return make([][]float32, len(texts)), nil
	}
}

func testConfig(cacheSize int, ttl time.Duration) *embedder.Config {
	return &embedder.Config{
		Provider:  embedder.ProviderOpenAI,
		Model:     "text-embedding-3-small",
		Dimension: 8,
		BatchSize: 2,
		CacheSize: cacheSize,
		CacheTTL:  ttl,
	}
}

func TestAdapter_Embed(t *testing.T) {
	t.Run("Should return zero vector for whitespace-only text", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		res := a.Embed(context.Background(), "   \n ")
		assert.Equal(t, embedder.SourceZero, res.Source)
		require.Len(t, res.Vector, 8)
		for _, v := range res.Vector {
			assert.Zero(t, v)
		}
		assert.Equal(t, 0, stub.queryCalls)
	})
	t.Run("Should embed via the remote provider", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		res := a.Embed(context.Background(), "hello")
		assert.Equal(t, embedder.SourceRemote, res.Source)
		assert.Len(t, res.Vector, 8)
		assert.Equal(t, 1, stub.queryCalls)
	})
	t.Run("Should serve repeated text from the cache", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8}
		a, err := embedder.Wrap(testConfig(16, time.Minute), stub)
		require.NoError(t, err)
		first := a.Embed(context.Background(), "hello")
		second := a.Embed(context.Background(), "hello")
		assert.Equal(t, embedder.SourceRemote, first.Source)
		assert.Equal(t, embedder.SourceCache, second.Source)
		assert.Equal(t, first.Vector, second.Vector)
		assert.Equal(t, 1, stub.queryCalls)
	})
	t.Run("Should expire cache entries after the TTL", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8}
		a, err := embedder.Wrap(testConfig(16, 10*time.Millisecond), stub)
		require.NoError(t, err)
		a.Embed(context.Background(), "hello")
		time.Sleep(30 * time.Millisecond)
		res := a.Embed(context.Background(), "hello")
		assert.Equal(t, embedder.SourceRemote, res.Source)
		assert.Equal(t, 2, stub.queryCalls)
	})
	t.Run("Should fall back deterministically when the remote fails", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8, fail: true}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		first := a.Embed(context.Background(), "some text")
		second := a.Embed(context.Background(), "some text")
		assert.Equal(t, embedder.SourceFallback, first.Source)
		assert.Equal(t, first.Vector, second.Vector)
		var norm float64
		for _, v := range first.Vector {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
	})
	t.Run("Should not reuse fallback vectors across texts", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8, fail: true}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		first := a.Embed(context.Background(), "text one")
		second := a.Embed(context.Background(), "text two")
		assert.NotEqual(t, first.Vector, second.Vector)
	})
	t.Run("Should deadline slow remote calls and fall back", func(t *testing.T) {
		cfg := testConfig(0, 0)
		cfg.RequestTimeout = 10 * time.Millisecond
		a, err := embedder.Wrap(cfg, &slowEmbedder{dimension: 8})
		require.NoError(t, err)
		start := time.Now()
		res := a.Embed(context.Background(), "hello")
		assert.Equal(t, embedder.SourceFallback, res.Source)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestAdapter_EmbedBatch(t *testing.T) {
	t.Run("Should preserve input order and length", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		texts := []string{"alpha", "", "gamma", "delta", "epsilon"}
		results := a.EmbedBatch(context.Background(), texts)
		require.Len(t, results, len(texts))
		assert.Equal(t, embedder.SourceRemote, results[0].Source)
		assert.Equal(t, embedder.SourceZero, results[1].Source)
		assert.Equal(t, embedder.SourceRemote, results[4].Source)
		// batch size 2 over 4 non-empty texts
		assert.Equal(t, 2, stub.batchCalls)
	})
	t.Run("Should degrade failed groups per item", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8, fail: true}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		results := a.EmbedBatch(context.Background(), []string{"one", "two", "three"})
		require.Len(t, results, 3)
		for _, res := range results {
			assert.Equal(t, embedder.SourceFallback, res.Source)
			assert.Len(t, res.Vector, 8)
		}
	})
	t.Run("Should serve cached items without touching the provider", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8}
		a, err := embedder.Wrap(testConfig(16, time.Minute), stub)
		require.NoError(t, err)
		a.EmbedBatch(context.Background(), []string{"alpha", "beta"})
		before := stub.batchCalls
		results := a.EmbedBatch(context.Background(), []string{"alpha", "beta"})
		assert.Equal(t, before, stub.batchCalls)
		for _, res := range results {
			assert.Equal(t, embedder.SourceCache, res.Source)
		}
	})
}

func TestAdapter_Status(t *testing.T) {
	t.Run("Should report healthy while the remote path works", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		a.Embed(context.Background(), "hello")
		status := a.Status()
		assert.Equal(t, embedder.HealthHealthy, status.State)
		assert.Zero(t, status.FallbackCount)
	})
	t.Run("Should report degradation and count fallbacks", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8, fail: true}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		a.Embed(context.Background(), "hello")
		a.Embed(context.Background(), "world")
		status := a.Status()
		assert.Equal(t, embedder.HealthDegraded, status.State)
		assert.Equal(t, int64(2), status.FallbackCount)
		assert.NotEmpty(t, status.LastError)
	})
	t.Run("Should recover to healthy after a successful remote call", func(t *testing.T) {
		stub := &stubEmbedder{dimension: 8, fail: true}
		a, err := embedder.Wrap(testConfig(0, 0), stub)
		require.NoError(t, err)
		a.Embed(context.Background(), "hello")
		stub.setFail(false)
		a.Embed(context.Background(), "world")
		assert.Equal(t, embedder.HealthHealthy, a.Status().State)
	})
}

func TestWrap(t *testing.T) {
	t.Run("Should reject missing implementation", func(t *testing.T) {
		_, err := embedder.Wrap(testConfig(0, 0), nil)
		assert.Error(t, err)
	})
	t.Run("Should reject invalid dimension", func(t *testing.T) {
		cfg := testConfig(0, 0)
		cfg.Dimension = 0
		_, err := embedder.Wrap(cfg, &stubEmbedder{dimension: 8})
		assert.Error(t, err)
	})
}

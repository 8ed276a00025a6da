package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/ragline/ragline/pkg/logger"
)

// Source records where a vector came from.
type Source string

const (
	// SourceRemote means the remote provider produced the vector.
	SourceRemote Source = "remote"
	// SourceCache means the vector was served from the TTL cache.
	SourceCache Source = "cache"
	// SourceFallback means the remote provider failed and the vector was
	// synthesized from the text hash.
	SourceFallback Source = "fallback"
	// SourceZero means the text was empty or whitespace-only.
	SourceZero Source = "zero"
)

// Health states reported by Status.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded-fallback"
)

// Result is one embedded text.
type Result struct {
	Vector []float32
	Source Source
}

// Status summarizes adapter health for health checks.
type Status struct {
	State         string
	FallbackCount int64
	LastError     string
}

// Adapter wraps a langchaingo embedder with caching, rate limiting and a
// deterministic fallback. Embed and EmbedBatch never return remote errors;
// degradation is visible through Result.Source and Status.
type Adapter struct {
	provider  Provider
	model     string
	dimension int
	batchSize int
	timeout   time.Duration
	impl      embeddings.Embedder
	limiter   *rate.Limiter
	cache     *expirable.LRU[string, []float32]

	fallbacks atomic.Int64
	degraded  atomic.Bool
	lastError atomic.Value
}

// New constructs a provider-backed adapter.
func New(cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder: config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	impl, err := buildProviderEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return newAdapter(cfg, impl), nil
}

// Wrap constructs an adapter around an existing langchaingo embedder. Used
// by tests and by callers that manage their own provider client.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder: config is required")
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder: implementation is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return newAdapter(cfg, impl), nil
}

func newAdapter(cfg *Config, impl embeddings.Embedder) *Adapter {
	a := &Adapter{
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		timeout:   cfg.RequestTimeout,
		impl:      impl,
	}
	if cfg.MinRequestInterval > 0 {
		a.limiter = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}
	if cfg.CacheSize > 0 {
		a.cache = expirable.NewLRU[string, []float32](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return a
}

func buildProviderEmbedder(cfg *Config) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("embedder: init openai client: %w", err)
		}
		impl, err := embeddings.NewEmbedder(llm,
			embeddings.WithBatchSize(cfg.BatchSize),
			embeddings.WithStripNewLines(true),
		)
		if err != nil {
			return nil, fmt.Errorf("embedder: init embedder: %w", err)
		}
		return impl, nil
	default:
		return nil, fmt.Errorf("embedder: unsupported provider %q", cfg.Provider)
	}
}

// Dimension returns the configured vector dimension.
func (a *Adapter) Dimension() int { return a.dimension }

// Model returns the configured model name.
func (a *Adapter) Model() string { return a.model }

// Embed converts one text into a vector. Empty or whitespace-only text
// yields the canonical zero vector. Remote failures are absorbed into a
// deterministic fallback vector; the caller never sees the error.
func (a *Adapter) Embed(ctx context.Context, text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Vector: zeroVector(a.dimension), Source: SourceZero}
	}
	key := a.cacheKey(trimmed)
	if vector, ok := a.cacheGet(key); ok {
		recordSource(ctx, a.provider, a.model, SourceCache, 1)
		return Result{Vector: vector, Source: SourceCache}
	}
	vector, err := a.embedRemote(ctx, trimmed)
	if err != nil {
		return a.fallback(ctx, trimmed, err)
	}
	a.cachePut(key, vector)
	a.degraded.Store(false)
	recordSource(ctx, a.provider, a.model, SourceRemote, 1)
	return Result{Vector: vector, Source: SourceRemote}
}

// EmbedBatch converts texts in order. The output always has the same
// length as the input; a group whose remote call fails degrades per item to
// the fallback vector instead of failing the batch.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))
	pendingIdx := make([]int, 0, len(texts))
	pendingTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			results[i] = Result{Vector: zeroVector(a.dimension), Source: SourceZero}
			continue
		}
		if vector, ok := a.cacheGet(a.cacheKey(trimmed)); ok {
			results[i] = Result{Vector: vector, Source: SourceCache}
			recordSource(ctx, a.provider, a.model, SourceCache, 1)
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingTexts = append(pendingTexts, trimmed)
	}
	for start := 0; start < len(pendingTexts); start += a.batchSize {
		end := start + a.batchSize
		if end > len(pendingTexts) {
			end = len(pendingTexts)
		}
		a.embedGroup(ctx, pendingTexts[start:end], pendingIdx[start:end], results)
	}
	return results
}

func (a *Adapter) embedGroup(ctx context.Context, texts []string, indices []int, results []Result) {
	vectors, err := a.embedRemoteBatch(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		if err == nil {
			err = fmt.Errorf("embedder: provider returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for i, text := range texts {
			results[indices[i]] = a.fallback(ctx, text, err)
		}
		return
	}
	a.degraded.Store(false)
	for i, vector := range vectors {
		a.cachePut(a.cacheKey(texts[i]), vector)
		results[indices[i]] = Result{Vector: vector, Source: SourceRemote}
	}
	recordSource(ctx, a.provider, a.model, SourceRemote, len(texts))
}

func (a *Adapter) embedRemote(ctx context.Context, text string) ([]float32, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()
	vector, err := a.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedder: %s/%s: %w", a.provider, a.model, err)
	}
	return vector, nil
}

func (a *Adapter) embedRemoteBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()
	vectors, err := a.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedder: %s/%s: %w", a.provider, a.model, err)
	}
	return vectors, nil
}

// withDeadline bounds one remote call. The rate-limit wait happens before
// the deadline starts so a saturated limiter cannot eat the budget.
func (a *Adapter) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// wait enforces the minimum inter-request interval. The cache-hit path
// never reaches here.
func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("embedder: rate limit wait: %w", err)
	}
	return nil
}

func (a *Adapter) fallback(ctx context.Context, text string, cause error) Result {
	a.fallbacks.Add(1)
	a.degraded.Store(true)
	a.lastError.Store(cause.Error())
	logger.FromContext(ctx).Warn("embedding degraded to local fallback",
		"provider", a.provider,
		"model", a.model,
		"error", cause,
	)
	recordSource(ctx, a.provider, a.model, SourceFallback, 1)
	return Result{Vector: fallbackVector(text, a.dimension), Source: SourceFallback}
}

// Status reports whether the remote path is currently degraded.
func (a *Adapter) Status() Status {
	s := Status{
		State:         HealthHealthy,
		FallbackCount: a.fallbacks.Load(),
	}
	if a.degraded.Load() {
		s.State = HealthDegraded
		if msg, ok := a.lastError.Load().(string); ok {
			s.LastError = msg
		}
	}
	return s
}

// cacheKey hashes the model name with the normalized text so switching
// models never reuses stale vectors.
func (a *Adapter) cacheKey(trimmed string) string {
	sum := sha256.Sum256([]byte(a.model + "\x00" + trimmed))
	return hex.EncodeToString(sum[:])
}

func (a *Adapter) cacheGet(key string) ([]float32, bool) {
	if a.cache == nil {
		return nil, false
	}
	return a.cache.Get(key)
}

func (a *Adapter) cachePut(key string, vector []float32) {
	if a.cache == nil {
		return
	}
	a.cache.Add(key, vector)
}

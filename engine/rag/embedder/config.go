// Package embedder converts text into fixed-dimension vectors. It wraps a
// remote langchaingo embedder with a TTL cache, a shared rate limiter and a
// deterministic local fallback so callers never see a remote failure.
package embedder

import (
	"errors"
	"fmt"
	"time"
)

// Provider names the remote embedding backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
)

// Config configures the adapter.
type Config struct {
	Provider           Provider
	Model              string
	APIKey             string
	BaseURL            string
	Dimension          int
	BatchSize          int
	// RequestTimeout bounds each remote provider call. Zero disables the
	// deadline.
	RequestTimeout     time.Duration
	MinRequestInterval time.Duration
	CacheSize          int
	CacheTTL           time.Duration
}

var (
	errMissingProvider  = errors.New("embedder: provider is required")
	errMissingModel     = errors.New("embedder: model is required")
	errInvalidDimension = errors.New("embedder: dimension must be greater than zero")
	errInvalidBatchSize = errors.New("embedder: batch size must be greater than zero")
)

func validateConfig(cfg *Config) error {
	if cfg.Provider == "" {
		return errMissingProvider
	}
	if cfg.Model == "" {
		return errMissingModel
	}
	if cfg.Dimension <= 0 {
		return errInvalidDimension
	}
	if cfg.BatchSize <= 0 {
		return errInvalidBatchSize
	}
	if cfg.CacheSize < 0 {
		return fmt.Errorf("embedder: cache size cannot be negative")
	}
	return nil
}

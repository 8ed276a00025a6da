// Package rag composes the ingestion and retrieval engine behind one
// facade. Every operation returns a stable {success, message, data}
// envelope so transports never see raw internal errors.
package rag

import (
	"context"
	"fmt"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/embedder"
	"github.com/ragline/ragline/engine/rag/extract"
	"github.com/ragline/ragline/engine/rag/ingest"
	"github.com/ragline/ragline/engine/rag/queue"
	"github.com/ragline/ragline/engine/rag/retriever"
	"github.com/ragline/ragline/engine/rag/store"
	"github.com/ragline/ragline/engine/rag/store/memory"
	"github.com/ragline/ragline/engine/rag/store/postgres"
	"github.com/ragline/ragline/engine/rag/uc"
	"github.com/ragline/ragline/engine/rag/vectordb"
	"github.com/ragline/ragline/pkg/config"
	"github.com/ragline/ragline/pkg/logger"
)

// Deps carries the collaborators a Service needs. Nil fields are built
// from the configuration, so tests can inject in-memory replacements
// while production wiring stays in one place.
type Deps struct {
	Documents store.DocumentRepository
	Pages     store.PageRepository
	Chunks    store.ChunkRepository
	Jobs      store.JobRepository
	Blobs     store.BlobStore
	Vectors   vectordb.Store
	Embedder  *embedder.Adapter
	Extractor extract.Extractor
}

// Service is the engine facade. It owns the worker pool driving the
// processing queue and exposes the collaborator-facing operations.
type Service struct {
	cfg     *config.Config
	vectors vectordb.Store
	embed   *embedder.Adapter
	queue   *queue.Queue
	pool    *queue.Pool

	ingestUC  *uc.Ingest
	statusUC  *uc.Status
	searchUC  *uc.Search
	batchUC   *uc.BatchSearch
	deleteUC  *uc.DeleteDocument
	contextUC *uc.BuildContext
	healthUC  *uc.Health
}

// NewService wires the full engine from configuration, filling any Deps
// fields the caller left nil.
func NewService(ctx context.Context, cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rag: config is required")
	}
	if err := fillStoreDeps(ctx, cfg, &deps); err != nil {
		return nil, err
	}
	if err := fillEngineDeps(ctx, cfg, &deps); err != nil {
		return nil, err
	}
	jobQueue := queue.New(deps.Jobs, queue.Config{
		Workers:        cfg.Queue.Workers,
		MaxRetries:     cfg.Queue.MaxRetries,
		PollInterval:   cfg.Queue.PollInterval,
		StaleAfter:     cfg.Queue.StaleAfter,
		ReaperInterval: cfg.Queue.ReaperInterval,
	})
	pipeline, err := ingest.New(
		deps.Documents, deps.Pages, deps.Chunks, deps.Blobs,
		deps.Extractor, deps.Embedder, deps.Vectors,
		ingest.Config{
			CollectionPrefix: cfg.VectorDB.CollectionPrefix,
			Metric:           vectordb.Metric(cfg.VectorDB.Metric),
			ChunkSize:        cfg.Ingest.ChunkSize,
			ChunkOverlap:     cfg.Ingest.ChunkOverlap,
			RetryAttempts:    cfg.Ingest.RetryAttempts,
			RetryBackoff:     cfg.Ingest.RetryBackoff,
			RetryMax:         cfg.Ingest.RetryMax,
		},
	)
	if err != nil {
		return nil, err
	}
	builder, err := retriever.New(deps.Embedder, deps.Vectors, retriever.Config{
		CollectionPrefix: cfg.VectorDB.CollectionPrefix,
		TopK:             cfg.Retrieval.TopK,
		MinScore:         cfg.Retrieval.MinScore,
		FallbackTop:      cfg.Retrieval.FallbackTopN,
		MaxTokens:        cfg.Retrieval.MaxTokens,
		SearchTimeout:    cfg.Retrieval.SearchTimeout,
		CacheSize:        cfg.Retrieval.CacheSize,
		CacheTTL:         cfg.Retrieval.CacheTTL,
	})
	if err != nil {
		return nil, err
	}
	runner := queue.JobRunnerFunc(func(ctx context.Context, job *store.ProcessingJob) error {
		return pipeline.Run(ctx, job.DocumentID)
	})
	prefix := cfg.VectorDB.CollectionPrefix
	return &Service{
		cfg:       cfg,
		vectors:   deps.Vectors,
		embed:     deps.Embedder,
		queue:     jobQueue,
		pool:      queue.NewPool(jobQueue, runner),
		ingestUC:  uc.NewIngest(deps.Documents, deps.Blobs, jobQueue, pipeline),
		statusUC:  uc.NewStatus(deps.Documents, deps.Chunks),
		searchUC:  uc.NewSearch(deps.Embedder, deps.Vectors, prefix),
		batchUC:   uc.NewBatchSearch(deps.Embedder, deps.Vectors, prefix),
		deleteUC:  uc.NewDeleteDocument(deps.Documents, deps.Pages, deps.Chunks, deps.Blobs, deps.Vectors, prefix),
		contextUC: uc.NewBuildContext(builder),
		healthUC:  uc.NewHealth(deps.Embedder, deps.Vectors),
	}, nil
}

func fillStoreDeps(ctx context.Context, cfg *config.Config, deps *Deps) error {
	if deps.Documents == nil || deps.Pages == nil || deps.Chunks == nil || deps.Jobs == nil {
		if cfg.Database.DSN == "" {
			mem := memory.NewStore()
			deps.Documents = mem.Documents()
			deps.Pages = mem.Pages()
			deps.Chunks = mem.Chunks()
			deps.Jobs = mem.Jobs()
			if deps.Blobs == nil {
				deps.Blobs = mem.Blobs()
			}
		} else {
			if cfg.Database.AutoMigrate {
				if err := postgres.ApplyMigrationsWithLock(ctx, cfg.Database.DSN); err != nil {
					return fmt.Errorf("rag: migrate: %w", err)
				}
			}
			pg, _, err := postgres.Connect(ctx, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("rag: %w", err)
			}
			deps.Documents = pg.Documents()
			deps.Pages = pg.Pages()
			deps.Chunks = pg.Chunks()
			deps.Jobs = pg.Jobs()
		}
	}
	if deps.Blobs == nil {
		blobs, err := store.NewFileBlobStore(cfg.Storage.BlobRoot)
		if err != nil {
			return fmt.Errorf("rag: blob store: %w", err)
		}
		deps.Blobs = blobs
	}
	return nil
}

func fillEngineDeps(ctx context.Context, cfg *config.Config, deps *Deps) error {
	if deps.Vectors == nil {
		vectors, err := vectordb.New(ctx, &vectordb.Config{
			Provider:        vectordb.Provider(cfg.VectorDB.Provider),
			DSN:             cfg.VectorDB.DSN,
			APIKey:          cfg.VectorDB.APIKey,
			Timeout:         cfg.VectorDB.RequestTimeout,
			UpsertBatchSize: cfg.VectorDB.UpsertBatchSize,
		})
		if err != nil {
			return fmt.Errorf("rag: vector store: %w", err)
		}
		deps.Vectors = vectors
	}
	if deps.Embedder == nil {
		adapter, err := embedder.New(&embedder.Config{
			Provider:           embedder.Provider(cfg.Embedder.Provider),
			Model:              cfg.Embedder.Model,
			APIKey:             cfg.Embedder.APIKey,
			BaseURL:            cfg.Embedder.BaseURL,
			Dimension:          cfg.Embedder.Dimension,
			BatchSize:          cfg.Embedder.BatchSize,
			RequestTimeout:     cfg.Embedder.RequestTimeout,
			MinRequestInterval: cfg.Embedder.MinRequestInterval,
			CacheSize:          cfg.Embedder.CacheSize,
			CacheTTL:           cfg.Embedder.CacheTTL,
		})
		if err != nil {
			return fmt.Errorf("rag: embedder: %w", err)
		}
		deps.Embedder = adapter
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.NewDocumentExtractor()
	}
	return nil
}

// StartWorkers launches the queue worker pool and reaper.
func (s *Service) StartWorkers(ctx context.Context) {
	s.pool.Start(ctx)
	logger.FromContext(ctx).Info("Queue workers started", "workers", s.cfg.Queue.Workers)
}

// Stop drains the worker pool and closes the vector store.
func (s *Service) Stop(ctx context.Context) {
	s.pool.Stop()
	if err := s.vectors.Close(ctx); err != nil {
		logger.FromContext(ctx).Warn("Failed to close vector store", "error", err)
	}
}

// Queue exposes the processing queue for operational tooling.
func (s *Service) Queue() *queue.Queue { return s.queue }

// IngestDocument accepts raw bytes and either runs the pipeline inline or
// enqueues a processing job.
func (s *Service) IngestDocument(ctx context.Context, in *uc.IngestInput) vectordb.OpResult {
	out, err := s.ingestUC.Execute(ctx, in)
	if err != nil {
		return failResult(err)
	}
	if in.Sync {
		return vectordb.OK("document ingested", out)
	}
	return vectordb.OK("document accepted", out)
}

// GetProcessingStatus reports the lifecycle state of a document.
func (s *Service) GetProcessingStatus(ctx context.Context, documentID core.ID) vectordb.OpResult {
	out, err := s.statusUC.Execute(ctx, &uc.StatusInput{DocumentID: documentID})
	if err != nil {
		return failResult(err)
	}
	return vectordb.OK("status", out)
}

// Search returns ranked matches for one query. The diagnostic unfiltered
// retry only engages when both the config flag and the request ask for it.
func (s *Service) Search(ctx context.Context, in *uc.SearchInput) vectordb.OpResult {
	if in != nil {
		in.Debug = in.Debug && s.cfg.VectorDB.DebugUnfilteredRetry
	}
	out, err := s.searchUC.Execute(ctx, in)
	if err != nil {
		return failResult(err)
	}
	return vectordb.OK("search results", out)
}

// BatchSearch runs several queries against one collection.
func (s *Service) BatchSearch(ctx context.Context, in *uc.BatchSearchInput) vectordb.OpResult {
	out, err := s.batchUC.Execute(ctx, in)
	if err != nil {
		return failResult(err)
	}
	return vectordb.OK("batch search results", out)
}

// DeleteDocument removes a document, its rows, its blob and its points.
func (s *Service) DeleteDocument(ctx context.Context, documentID core.ID) vectordb.OpResult {
	if err := s.deleteUC.Execute(ctx, &uc.DeleteDocumentInput{DocumentID: documentID}); err != nil {
		return failResult(err)
	}
	return vectordb.OK("document deleted", nil)
}

// BuildRetrievalContext assembles the context bundle handed to answer
// generation collaborators.
func (s *Service) BuildRetrievalContext(ctx context.Context, in *uc.BuildContextInput) vectordb.OpResult {
	out, err := s.contextUC.Execute(ctx, in)
	if err != nil {
		return failResult(err)
	}
	return vectordb.OK("context bundle", out.Bundle)
}

// HealthCheck reports per-component health.
func (s *Service) HealthCheck(ctx context.Context) vectordb.OpResult {
	out, err := s.healthUC.Execute(ctx)
	if err != nil {
		return failResult(err)
	}
	return vectordb.OK("health", out)
}

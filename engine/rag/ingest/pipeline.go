// Package ingest orchestrates document ingestion: extraction, chunking,
// embedding and vector storage, with per-document status bookkeeping.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/chunk"
	"github.com/ragline/ragline/engine/rag/embedder"
	"github.com/ragline/ragline/engine/rag/extract"
	"github.com/ragline/ragline/engine/rag/store"
	"github.com/ragline/ragline/engine/rag/vectordb"
	"github.com/ragline/ragline/pkg/logger"
)

// pointNamespace seeds UUIDv5 point IDs so re-ingesting identical content
// replaces points instead of duplicating them.
var pointNamespace = uuid.MustParse("8f6f11cb-3c1e-4f09-9cbb-6f8f9fbe2a11")

// Config tunes ingestion behavior.
type Config struct {
	CollectionPrefix string
	Metric           vectordb.Metric
	ChunkSize        int
	ChunkOverlap     int
	RetryAttempts    int
	RetryBackoff     time.Duration
	RetryMax         time.Duration
}

// Pipeline runs the per-document ingestion state machine. The same Run is
// invoked inline by the synchronous path and by queue workers, so both
// produce identical side effects.
type Pipeline struct {
	docs      store.DocumentRepository
	pages     store.PageRepository
	chunks    store.ChunkRepository
	blobs     store.BlobStore
	extractor extract.Extractor
	chunker   *chunk.Processor
	embed     *embedder.Adapter
	vectors   vectordb.Store
	cfg       Config
}

// New wires the pipeline. The chunker is built from the config so all
// runs share one deterministic splitting policy.
func New(
	docs store.DocumentRepository,
	pages store.PageRepository,
	chunks store.ChunkRepository,
	blobs store.BlobStore,
	extractor extract.Extractor,
	embed *embedder.Adapter,
	vectors vectordb.Store,
	cfg Config,
) (*Pipeline, error) {
	chunker, err := chunk.NewProcessor(chunk.Settings{
		Size:              cfg.ChunkSize,
		Overlap:           cfg.ChunkOverlap,
		NormalizeNewlines: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Pipeline{
		docs:      docs,
		pages:     pages,
		chunks:    chunks,
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker,
		embed:     embed,
		vectors:   vectors,
		cfg:       cfg,
	}, nil
}

// Run ingests one document end to end. On any unrecoverable failure the
// document is marked failed and the error is returned so the driving job
// can consume a retry.
func (p *Pipeline) Run(ctx context.Context, documentID core.ID) error {
	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("ingest: load document %s: %w", documentID, err)
	}
	if err := p.docs.UpdateStatus(ctx, doc.ID, store.DocumentStatusProcessing, ""); err != nil {
		return fmt.Errorf("ingest: mark processing: %w", err)
	}
	if err := p.process(ctx, doc); err != nil {
		if statusErr := p.docs.UpdateStatus(ctx, doc.ID, store.DocumentStatusFailed, err.Error()); statusErr != nil {
			logger.FromContext(ctx).Error("failed to mark document failed",
				"document_id", doc.ID, "error", statusErr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, doc *store.Document) error {
	log := logger.FromContext(ctx).With("document_id", doc.ID, "tenant_id", doc.TenantID)
	start := time.Now()

	data, err := p.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("ingest: read blob %s: %w", doc.StoragePath, err)
	}
	extracted, err := p.extractor.Extract(data, doc.Filename)
	if err != nil {
		return fmt.Errorf("ingest: extract: %w", err)
	}
	if err := p.persistPages(ctx, doc.ID, extracted.Pages); err != nil {
		return err
	}

	text := extract.ConcatPages(extracted.Pages)
	spans := extract.PageSpans(extracted.Pages)
	segments := p.chunker.Process(text)
	log.Info("document chunked", "pages", len(extracted.Pages), "chunks", len(segments))

	collection, err := vectordb.CollectionName(p.cfg.CollectionPrefix, doc.TenantID, doc.Namespace)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := p.vectors.EnsureCollection(ctx, collection, p.embed.Dimension(), p.cfg.Metric); err != nil {
		return fmt.Errorf("ingest: ensure collection %s: %w", collection, err)
	}
	// Drop any points from a previous run first so a retry storm cannot
	// leave duplicates behind.
	if err := p.vectors.Delete(ctx, collection, vectordb.Selector{
		Match: map[string]any{"document_id": doc.ID.String()},
	}); err != nil {
		return fmt.Errorf("ingest: clear previous points: %w", err)
	}

	records, points := p.buildChunks(ctx, doc, segments, spans)
	stored := 0
	if len(points) > 0 {
		result, err := p.upsertWithRetry(ctx, collection, points)
		if err != nil {
			return fmt.Errorf("ingest: upsert points: %w", err)
		}
		stored = len(result.PointIDs)
	}
	if err := p.chunks.ReplaceForDocument(ctx, doc.ID, records); err != nil {
		return fmt.Errorf("ingest: persist chunks: %w", err)
	}
	if err := p.docs.UpdateCounts(ctx, doc.ID, len(extracted.Pages), stored); err != nil {
		return fmt.Errorf("ingest: update counts: %w", err)
	}
	if err := p.docs.UpdateStatus(ctx, doc.ID, store.DocumentStatusReady, ""); err != nil {
		return fmt.Errorf("ingest: mark ready: %w", err)
	}
	recordIngest(ctx, doc.TenantID, time.Since(start), len(records))
	log.Info("document ingested",
		"chunks", len(records),
		"points", stored,
		"duration", time.Since(start),
	)
	return nil
}

func (p *Pipeline) persistPages(ctx context.Context, documentID core.ID, pages []extract.PageText) error {
	records := make([]store.Page, 0, len(pages))
	for _, page := range pages {
		records = append(records, store.Page{
			ID:         core.MustNewID(),
			DocumentID: documentID,
			PageNumber: page.Number,
			TextLength: len(page.Text),
			OCRUsed:    page.OCRUsed,
			HasText:    page.HasText,
		})
	}
	if err := p.pages.ReplaceForDocument(ctx, documentID, records); err != nil {
		return fmt.Errorf("ingest: persist pages: %w", err)
	}
	return nil
}

// buildChunks embeds all segments in one ordered batch and pairs each
// chunk row with its vector point.
func (p *Pipeline) buildChunks(
	ctx context.Context,
	doc *store.Document,
	segments []chunk.Chunk,
	spans []extract.PageSpan,
) ([]store.Chunk, []vectordb.Point) {
	texts := make([]string, len(segments))
	for i := range segments {
		texts[i] = segments[i].Text
	}
	embedded := p.embed.EmbedBatch(ctx, texts)
	records := make([]store.Chunk, 0, len(segments))
	points := make([]vectordb.Point, 0, len(segments))
	for i := range segments {
		seg := segments[i]
		chunkID := core.MustNewID()
		pointID := PointID(doc.ID, seg.Index, seg.Hash)
		pageStart, pageEnd := extract.PageRange(spans, seg.Start, seg.End)
		status := store.EmbeddingStatusRemote
		if embedded[i].Source == embedder.SourceFallback || embedded[i].Source == embedder.SourceZero {
			status = store.EmbeddingStatusFallback
		}
		records = append(records, store.Chunk{
			ID:              chunkID,
			DocumentID:      doc.ID,
			ChunkIndex:      seg.Index,
			Text:            seg.Text,
			ByteLength:      len(seg.Text),
			PageStart:       pageStart,
			PageEnd:         pageEnd,
			ContentHash:     seg.Hash,
			PointID:         pointID,
			EmbeddingStatus: status,
		})
		points = append(points, vectordb.Point{
			ID:     pointID,
			Vector: embedded[i].Vector,
			Payload: map[string]any{
				"document_id":               doc.ID.String(),
				"chunk_id":                  chunkID.String(),
				"chunk_index":               seg.Index,
				vectordb.PayloadFieldTenant: doc.TenantID,
				"text":                      seg.Text,
			},
		})
	}
	return records, points
}

func (p *Pipeline) upsertWithRetry(ctx context.Context, collection string, points []vectordb.Point) (*vectordb.UpsertResult, error) {
	backoff := retry.NewExponential(p.cfg.RetryBackoff)
	if p.cfg.RetryMax > 0 {
		backoff = retry.WithMaxDuration(p.cfg.RetryMax, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(p.cfg.RetryAttempts), backoff)
	var result *vectordb.UpsertResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var upsertErr error
		result, upsertErr = p.vectors.Upsert(ctx, collection, points)
		if upsertErr != nil {
			return retry.RetryableError(upsertErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PointID derives the deterministic UUIDv5 vector point ID for a chunk.
// Same document, index and content hash always map to the same point, so
// an idempotent re-ingestion replaces rather than duplicates.
func PointID(documentID core.ID, chunkIndex int, contentHash string) string {
	name := fmt.Sprintf("%s:%d:%s", documentID, chunkIndex, contentHash)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

package uc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/extract"
	"github.com/ragline/ragline/engine/rag/ingest"
	"github.com/ragline/ragline/engine/rag/queue"
	"github.com/ragline/ragline/engine/rag/store"
	"github.com/ragline/ragline/pkg/logger"
)

type IngestInput struct {
	TenantID  string
	Namespace string
	Filename  string
	Data      []byte
	Priority  int
	// Sync runs the pipeline inline instead of enqueueing a job. Both
	// paths produce identical rows and vector points.
	Sync bool
}

type IngestOutput struct {
	DocumentID core.ID
	Status     store.DocumentStatus
	JobID      core.ID
	// Deduplicated is set when an identical document already existed for
	// this tenant and namespace; no new rows were written.
	Deduplicated bool
}

type Ingest struct {
	docs     store.DocumentRepository
	blobs    store.BlobStore
	queue    *queue.Queue
	pipeline *ingest.Pipeline
}

func NewIngest(
	docs store.DocumentRepository,
	blobs store.BlobStore,
	jobQueue *queue.Queue,
	pipeline *ingest.Pipeline,
) *Ingest {
	return &Ingest{docs: docs, blobs: blobs, queue: jobQueue, pipeline: pipeline}
}

func (uc *Ingest) Execute(ctx context.Context, in *IngestInput) (*IngestOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return nil, ErrTenantMissing
	}
	namespace := strings.TrimSpace(in.Namespace)
	if namespace == "" {
		return nil, ErrNamespaceMissing
	}
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return nil, ErrFilenameMissing
	}
	if len(in.Data) == 0 {
		return nil, ErrEmptyDocument
	}
	hash := contentHash(in.Data)
	if existing, err := uc.docs.GetByContentHash(ctx, tenantID, namespace, hash); err == nil {
		return &IngestOutput{
			DocumentID:   existing.ID,
			Status:       existing.Status,
			Deduplicated: true,
		}, nil
	}
	doc := &store.Document{
		ID:          core.MustNewID(),
		TenantID:    tenantID,
		Namespace:   namespace,
		Filename:    filename,
		ContentHash: hash,
		SizeBytes:   int64(len(in.Data)),
		MimeType:    extract.DetectMime(in.Data),
		StoragePath: path.Join(tenantID, namespace, hash, filename),
		Status:      store.DocumentStatusUploaded,
	}
	if err := uc.blobs.Put(ctx, doc.StoragePath, in.Data); err != nil {
		return nil, fmt.Errorf("store document bytes: %w", err)
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	logger.FromContext(ctx).Info("Document accepted",
		"document_id", doc.ID,
		"tenant_id", tenantID,
		"namespace", namespace,
		"size_bytes", doc.SizeBytes,
		"sync", in.Sync,
	)
	if in.Sync {
		if err := uc.pipeline.Run(ctx, doc.ID); err != nil {
			return &IngestOutput{DocumentID: doc.ID, Status: store.DocumentStatusFailed}, err
		}
		return &IngestOutput{DocumentID: doc.ID, Status: store.DocumentStatusReady}, nil
	}
	jobID, err := uc.queue.Enqueue(ctx, doc.ID, tenantID, namespace, in.Priority)
	if err != nil {
		return nil, fmt.Errorf("enqueue ingestion job: %w", err)
	}
	return &IngestOutput{DocumentID: doc.ID, Status: store.DocumentStatusUploaded, JobID: jobID}, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

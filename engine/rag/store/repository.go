package store

import (
	"context"
	"errors"
	"time"

	"github.com/ragline/ragline/engine/core"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DocumentRepository persists documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id core.ID) (*Document, error)
	GetByContentHash(ctx context.Context, tenantID, namespace, hash string) (*Document, error)
	UpdateStatus(ctx context.Context, id core.ID, status DocumentStatus, errorMessage string) error
	UpdateCounts(ctx context.Context, id core.ID, pageCount, vectorCount int) error
	Delete(ctx context.Context, id core.ID) error
}

// PageRepository persists per-page extraction metadata. Pages are immutable
// after creation; re-ingestion replaces the whole set for a document.
type PageRepository interface {
	ReplaceForDocument(ctx context.Context, documentID core.ID, pages []Page) error
	ListByDocument(ctx context.Context, documentID core.ID) ([]Page, error)
	DeleteForDocument(ctx context.Context, documentID core.ID) error
}

// ChunkRepository persists chunks. Re-ingestion replaces the whole set for a
// document so retries cannot leave stale chunks behind.
type ChunkRepository interface {
	ReplaceForDocument(ctx context.Context, documentID core.ID, chunks []Chunk) error
	ListByDocument(ctx context.Context, documentID core.ID) ([]Chunk, error)
	CountByDocument(ctx context.Context, documentID core.ID) (int, error)
	DeleteForDocument(ctx context.Context, documentID core.ID) error
}

// JobRepository persists processing jobs for the queue.
type JobRepository interface {
	Create(ctx context.Context, job *ProcessingJob) error
	GetByID(ctx context.Context, id core.ID) (*ProcessingJob, error)
	// ClaimNext atomically selects the oldest pending job at the highest
	// priority and marks it processing. Returns ErrNotFound when the queue
	// is drained.
	ClaimNext(ctx context.Context) (*ProcessingJob, error)
	MarkProcessing(ctx context.Context, id core.ID) error
	MarkCompleted(ctx context.Context, id core.ID) error
	MarkFailed(ctx context.Context, id core.ID, errorMessage string) error
	// IncrementRetry bumps retry_count and re-queues the job as pending
	// while retry_count < max_retries. Returns false when the retry budget
	// is exhausted and the job stays terminally failed.
	IncrementRetry(ctx context.Context, id core.ID) (bool, error)
	// ReclaimStale moves jobs stuck in processing since before the cutoff
	// back to pending without consuming a retry. Returns how many were
	// reclaimed.
	ReclaimStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
	// CancelPending soft-deletes a pending job before a worker claims it.
	// Jobs in any other state are left untouched.
	CancelPending(ctx context.Context, id core.ID) error
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}

// BlobStore persists raw uploaded bytes keyed by storage path.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

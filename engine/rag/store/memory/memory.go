// Package memory provides in-memory repository implementations used by unit
// tests and low-volume embedded deployments. All repositories share one
// mutex-guarded state so cascades behave like the SQL schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/store"
)

// Store implements every repository interface in engine/rag/store.
type Store struct {
	mu    sync.Mutex
	docs  map[core.ID]store.Document
	pages map[core.ID][]store.Page
	chunk map[core.ID][]store.Chunk
	jobs  map[core.ID]store.ProcessingJob
	blobs map[string][]byte
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		docs:  make(map[core.ID]store.Document),
		pages: make(map[core.ID][]store.Page),
		chunk: make(map[core.ID][]store.Chunk),
		jobs:  make(map[core.ID]store.ProcessingJob),
		blobs: make(map[string][]byte),
	}
}

// Documents returns the store as a DocumentRepository.
func (s *Store) Documents() store.DocumentRepository { return (*documentRepo)(s) }

// Pages returns the store as a PageRepository.
func (s *Store) Pages() store.PageRepository { return (*pageRepo)(s) }

// Chunks returns the store as a ChunkRepository.
func (s *Store) Chunks() store.ChunkRepository { return (*chunkRepo)(s) }

// Jobs returns the store as a JobRepository.
func (s *Store) Jobs() store.JobRepository { return (*jobRepo)(s) }

// Blobs returns the store as a BlobStore.
func (s *Store) Blobs() store.BlobStore { return (*blobRepo)(s) }

type documentRepo Store

func (r *documentRepo) Create(_ context.Context, doc *store.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	r.docs[doc.ID] = *doc
	return nil
}

func (r *documentRepo) GetByID(_ context.Context, id core.ID) (*store.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

func (r *documentRepo) GetByContentHash(
	_ context.Context,
	tenantID, namespace, hash string,
) (*store.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.TenantID == tenantID && doc.Namespace == namespace && doc.ContentHash == hash {
			found := doc
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *documentRepo) UpdateStatus(
	_ context.Context,
	id core.ID,
	status store.DocumentStatus,
	errorMessage string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Status = status
	doc.ErrorMessage = errorMessage
	doc.UpdatedAt = time.Now().UTC()
	r.docs[id] = doc
	return nil
}

func (r *documentRepo) UpdateCounts(_ context.Context, id core.ID, pageCount, vectorCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.PageCount = pageCount
	doc.VectorCount = vectorCount
	doc.UpdatedAt = time.Now().UTC()
	r.docs[id] = doc
	return nil
}

// Delete cascades to pages and chunks like the SQL foreign keys do.
func (r *documentRepo) Delete(_ context.Context, id core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.docs, id)
	delete(r.pages, id)
	delete(r.chunk, id)
	return nil
}

type pageRepo Store

func (r *pageRepo) ReplaceForDocument(_ context.Context, documentID core.ID, pages []store.Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := make([]store.Page, len(pages))
	now := time.Now().UTC()
	for i := range pages {
		page := pages[i]
		if page.ID.IsZero() {
			page.ID = core.MustNewID()
		}
		page.DocumentID = documentID
		page.CreatedAt = now
		replaced[i] = page
	}
	r.pages[documentID] = replaced
	return nil
}

func (r *pageRepo) ListByDocument(_ context.Context, documentID core.ID) ([]store.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := make([]store.Page, len(r.pages[documentID]))
	copy(pages, r.pages[documentID])
	return pages, nil
}

func (r *pageRepo) DeleteForDocument(_ context.Context, documentID core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pages, documentID)
	return nil
}

type chunkRepo Store

func (r *chunkRepo) ReplaceForDocument(_ context.Context, documentID core.ID, chunks []store.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := make([]store.Chunk, len(chunks))
	now := time.Now().UTC()
	for i := range chunks {
		ch := chunks[i]
		if ch.ID.IsZero() {
			ch.ID = core.MustNewID()
		}
		ch.DocumentID = documentID
		ch.CreatedAt = now
		replaced[i] = ch
	}
	r.chunk[documentID] = replaced
	return nil
}

func (r *chunkRepo) ListByDocument(_ context.Context, documentID core.ID) ([]store.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chunks := make([]store.Chunk, len(r.chunk[documentID]))
	copy(chunks, r.chunk[documentID])
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

func (r *chunkRepo) CountByDocument(_ context.Context, documentID core.ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunk[documentID]), nil
}

func (r *chunkRepo) DeleteForDocument(_ context.Context, documentID core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunk, documentID)
	return nil
}

type jobRepo Store

func (r *jobRepo) Create(_ context.Context, job *store.ProcessingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = store.JobStatusPending
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *jobRepo) GetByID(_ context.Context, id core.ID) (*store.ProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &job, nil
}

func (r *jobRepo) ClaimNext(_ context.Context) (*store.ProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *store.ProcessingJob
	for id := range r.jobs {
		job := r.jobs[id]
		if job.Status != store.JobStatusPending {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			claimed := job
			best = &claimed
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	best.Status = store.JobStatusProcessing
	best.StartedAt = &now
	best.UpdatedAt = now
	r.jobs[best.ID] = *best
	return best, nil
}

func (r *jobRepo) MarkProcessing(_ context.Context, id core.ID) error {
	return r.transition(id, func(job *store.ProcessingJob, now time.Time) {
		job.Status = store.JobStatusProcessing
		job.StartedAt = &now
	})
}

func (r *jobRepo) MarkCompleted(_ context.Context, id core.ID) error {
	return r.transition(id, func(job *store.ProcessingJob, now time.Time) {
		job.Status = store.JobStatusCompleted
		job.CompletedAt = &now
		job.ErrorMessage = ""
	})
}

func (r *jobRepo) MarkFailed(_ context.Context, id core.ID, errorMessage string) error {
	return r.transition(id, func(job *store.ProcessingJob, now time.Time) {
		job.Status = store.JobStatusFailed
		job.CompletedAt = &now
		job.ErrorMessage = errorMessage
	})
}

func (r *jobRepo) IncrementRetry(_ context.Context, id core.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	// Requeue while the pre-increment count is under budget so the job
	// runs max_retries + 1 times before going terminal.
	requeue := job.RetryCount < job.MaxRetries
	job.RetryCount++
	now := time.Now().UTC()
	job.UpdatedAt = now
	if requeue {
		job.Status = store.JobStatusPending
		job.StartedAt = nil
		job.CompletedAt = nil
		r.jobs[id] = job
		return true, nil
	}
	job.Status = store.JobStatusFailed
	r.jobs[id] = job
	return false, nil
}

func (r *jobRepo) ReclaimStale(_ context.Context, cutoff time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reclaimed := 0
	for id := range r.jobs {
		if limit > 0 && reclaimed >= limit {
			break
		}
		job := r.jobs[id]
		if job.Status != store.JobStatusProcessing {
			continue
		}
		if job.StartedAt == nil || job.StartedAt.After(cutoff) {
			continue
		}
		job.Status = store.JobStatusPending
		job.StartedAt = nil
		job.UpdatedAt = time.Now().UTC()
		r.jobs[id] = job
		reclaimed++
	}
	return reclaimed, nil
}

func (r *jobRepo) CancelPending(_ context.Context, id core.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != store.JobStatusPending {
		return nil
	}
	job.Status = store.JobStatusFailed
	job.ErrorMessage = "canceled before processing"
	job.UpdatedAt = time.Now().UTC()
	r.jobs[id] = job
	return nil
}

func (r *jobRepo) CountByStatus(_ context.Context) (map[store.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[store.JobStatus]int)
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (r *jobRepo) transition(id core.ID, apply func(*store.ProcessingJob, time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	apply(&job, now)
	job.UpdatedAt = now
	r.jobs[id] = job
	return nil
}

type blobRepo Store

func (r *blobRepo) Put(_ context.Context, path string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	r.blobs[path] = stored
	return nil
}

func (r *blobRepo) Get(_ context.Context, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.blobs[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (r *blobRepo) Delete(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, path)
	return nil
}

// Package queue implements the persisted, at-least-once processing queue
// that drives asynchronous document ingestion.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/store"
)

// ErrEmpty is returned by DequeueNext when no pending job exists.
var ErrEmpty = errors.New("queue: no pending jobs")

// Config tunes queue behavior.
type Config struct {
	Workers        int
	MaxRetries     int
	PollInterval   time.Duration
	StaleAfter     time.Duration
	ReaperInterval time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = time.Minute
	}
	return cfg
}

// Queue sequences ingestion jobs over the job repository. Persistence
// semantics (atomic claim, retry bookkeeping) live in the repository; the
// queue adds defaults and the worker-facing contract.
type Queue struct {
	jobs store.JobRepository
	cfg  Config
}

// New builds a queue over the given repository.
func New(jobs store.JobRepository, cfg Config) *Queue {
	return &Queue{jobs: jobs, cfg: cfg.withDefaults()}
}

// Enqueue creates a pending job for a document.
func (q *Queue) Enqueue(ctx context.Context, documentID core.ID, tenantID, namespace string, priority int) (core.ID, error) {
	job := &store.ProcessingJob{
		ID:         core.MustNewID(),
		DocumentID: documentID,
		TenantID:   tenantID,
		Namespace:  namespace,
		Priority:   priority,
		Status:     store.JobStatusPending,
		MaxRetries: q.cfg.MaxRetries,
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("queue: enqueue document %s: %w", documentID, err)
	}
	return job.ID, nil
}

// DequeueNext claims the oldest pending job at the highest priority and
// marks it processing. Returns ErrEmpty when the queue is drained.
func (q *Queue) DequeueNext(ctx context.Context) (*store.ProcessingJob, error) {
	job, err := q.jobs.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	return job, nil
}

// MarkProcessing transitions a job to processing outside the claim path.
func (q *Queue) MarkProcessing(ctx context.Context, jobID core.ID) error {
	return q.jobs.MarkProcessing(ctx, jobID)
}

// MarkCompleted records a successful run.
func (q *Queue) MarkCompleted(ctx context.Context, jobID core.ID) error {
	return q.jobs.MarkCompleted(ctx, jobID)
}

// MarkFailed records the failure reason.
func (q *Queue) MarkFailed(ctx context.Context, jobID core.ID, cause string) error {
	return q.jobs.MarkFailed(ctx, jobID, cause)
}

// IncrementRetry consumes one retry. It reports whether the job was
// requeued; false means the retry budget is exhausted and the job stays
// terminally failed.
func (q *Queue) IncrementRetry(ctx context.Context, jobID core.ID) (bool, error) {
	return q.jobs.IncrementRetry(ctx, jobID)
}

// CancelPending soft-deletes a job that no worker has claimed yet.
func (q *Queue) CancelPending(ctx context.Context, jobID core.ID) error {
	return q.jobs.CancelPending(ctx, jobID)
}

// ReclaimStale moves jobs stuck in processing beyond the staleness window
// back to pending without consuming a retry.
func (q *Queue) ReclaimStale(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-q.cfg.StaleAfter)
	return q.jobs.ReclaimStale(ctx, cutoff, limit)
}

// Stats returns job counts per status.
func (q *Queue) Stats(ctx context.Context) (map[store.JobStatus]int, error) {
	return q.jobs.CountByStatus(ctx)
}

// Job looks up one job by ID.
func (q *Queue) Job(ctx context.Context, jobID core.ID) (*store.ProcessingJob, error) {
	return q.jobs.GetByID(ctx, jobID)
}

// MaxRetries exposes the configured retry budget for new jobs.
func (q *Queue) MaxRetries() int { return q.cfg.MaxRetries }

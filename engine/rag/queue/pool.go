package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ragline/ragline/engine/rag/store"
	"github.com/ragline/ragline/pkg/logger"
)

// JobRunner executes one claimed job. A returned error marks the job
// failed and consumes a retry.
type JobRunner interface {
	Run(ctx context.Context, job *store.ProcessingJob) error
}

// JobRunnerFunc adapts a function to JobRunner.
type JobRunnerFunc func(ctx context.Context, job *store.ProcessingJob) error

func (f JobRunnerFunc) Run(ctx context.Context, job *store.ProcessingJob) error {
	return f(ctx, job)
}

const reclaimBatchLimit = 100

// Pool drains the queue with a bounded set of workers and runs a reaper
// that reclaims jobs orphaned by crashed workers.
type Pool struct {
	queue  *Queue
	runner JobRunner

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds a worker pool over the queue.
func NewPool(q *Queue, runner JobRunner) *Pool {
	return &Pool{queue: q, runner: runner}
}

// Start launches the workers and the reaper. It returns immediately;
// jobs run until Stop is called or the context is canceled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.queue.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
	p.wg.Add(1)
	go p.reaper(runCtx)
}

// Stop cancels all workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := logger.FromContext(ctx).With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := p.queue.DequeueNext(ctx)
		if err != nil {
			if !errors.Is(err, ErrEmpty) && ctx.Err() == nil {
				log.Error("failed to dequeue job", "error", err)
			}
			if !sleep(ctx, p.queue.cfg.PollInterval) {
				return
			}
			continue
		}
		p.process(ctx, log, job)
	}
}

func (p *Pool) process(ctx context.Context, log logger.Logger, job *store.ProcessingJob) {
	log.Info("processing job", "job_id", job.ID, "document_id", job.DocumentID, "retry_count", job.RetryCount)
	err := p.runner.Run(ctx, job)
	if err == nil {
		if markErr := p.queue.MarkCompleted(ctx, job.ID); markErr != nil {
			log.Error("failed to mark job completed", "job_id", job.ID, "error", markErr)
		}
		return
	}
	log.Error("job failed", "job_id", job.ID, "document_id", job.DocumentID, "error", err)
	if markErr := p.queue.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
		log.Error("failed to mark job failed", "job_id", job.ID, "error", markErr)
		return
	}
	requeued, retryErr := p.queue.IncrementRetry(ctx, job.ID)
	if retryErr != nil {
		log.Error("failed to update retry state", "job_id", job.ID, "error", retryErr)
		return
	}
	if requeued {
		log.Info("job requeued for retry", "job_id", job.ID, "retry_count", job.RetryCount+1)
	} else {
		log.Warn("job retries exhausted", "job_id", job.ID, "max_retries", job.MaxRetries)
	}
}

// reaper periodically returns stale processing jobs to pending. A job can
// only go stale when its worker died mid-run, so the reclaim does not
// consume a retry.
func (p *Pool) reaper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.queue.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.queue.ReclaimStale(ctx, reclaimBatchLimit)
			if err != nil {
				if ctx.Err() == nil {
					logger.FromContext(ctx).Error("failed to reclaim stale jobs", "error", err)
				}
				continue
			}
			if reclaimed > 0 {
				logger.FromContext(ctx).Warn("reclaimed stale jobs", "count", reclaimed)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

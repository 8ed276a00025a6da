package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/store"
)

var jobColumns = []string{
	"id", "document_id", "tenant_id", "namespace", "priority", "status",
	"retry_count", "max_retries", "error_message", "created_at",
	"started_at", "completed_at", "updated_at",
}

// JobRepo implements store.JobRepository.
type JobRepo struct {
	db DBInterface
}

func (r *JobRepo) Create(ctx context.Context, job *store.ProcessingJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = store.JobStatusPending
	}
	query, args, err := squirrel.Insert("processing_jobs").
		Columns(jobColumns...).
		Values(
			job.ID, job.DocumentID, job.TenantID, job.Namespace, job.Priority,
			job.Status, job.RetryCount, job.MaxRetries, job.ErrorMessage,
			job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building job insert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, id core.ID) (*store.ProcessingJob, error) {
	query, args, err := squirrel.Select(jobColumns...).
		From("processing_jobs").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building job select query: %w", err)
	}
	var job store.ProcessingJob
	if err := pgxscan.Get(ctx, r.db, &job, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	return &job, nil
}

const claimNextSQL = `UPDATE processing_jobs SET
    status = 'processing',
    started_at = NOW(),
    updated_at = NOW()
WHERE id = (
    SELECT id FROM processing_jobs
    WHERE status = 'pending'
    ORDER BY priority DESC, created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, document_id, tenant_id, namespace, priority, status,
    retry_count, max_retries, error_message, created_at,
    started_at, completed_at, updated_at`

// ClaimNext atomically claims the oldest pending job at the highest
// priority. SKIP LOCKED keeps concurrent workers from double-claiming.
func (r *JobRepo) ClaimNext(ctx context.Context) (*store.ProcessingJob, error) {
	var job store.ProcessingJob
	if err := pgxscan.Get(ctx, r.db, &job, claimNextSQL); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("claiming next job: %w", err)
	}
	return &job, nil
}

func (r *JobRepo) MarkProcessing(ctx context.Context, id core.ID) error {
	return r.update(ctx, id, squirrel.Update("processing_jobs").
		Set("status", store.JobStatusProcessing).
		Set("started_at", time.Now().UTC()))
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id core.ID) error {
	return r.update(ctx, id, squirrel.Update("processing_jobs").
		Set("status", store.JobStatusCompleted).
		Set("completed_at", time.Now().UTC()).
		Set("error_message", ""))
}

func (r *JobRepo) MarkFailed(ctx context.Context, id core.ID, errorMessage string) error {
	return r.update(ctx, id, squirrel.Update("processing_jobs").
		Set("status", store.JobStatusFailed).
		Set("completed_at", time.Now().UTC()).
		Set("error_message", errorMessage))
}

// The CASE conditions read the pre-update retry_count, so a job is
// requeued while retry_count < max_retries and therefore runs
// max_retries + 1 times before going terminal.
const incrementRetrySQL = `UPDATE processing_jobs SET
    retry_count = retry_count + 1,
    status = CASE WHEN retry_count < max_retries THEN 'pending' ELSE 'failed' END,
    started_at = CASE WHEN retry_count < max_retries THEN NULL ELSE started_at END,
    completed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE completed_at END,
    updated_at = NOW()
WHERE id = $1
RETURNING status`

func (r *JobRepo) IncrementRetry(ctx context.Context, id core.ID) (bool, error) {
	var status store.JobStatus
	if err := r.db.QueryRow(ctx, incrementRetrySQL, id).Scan(&status); err != nil {
		if pgxscan.NotFound(err) {
			return false, store.ErrNotFound
		}
		return false, fmt.Errorf("incrementing job retry: %w", err)
	}
	return status == store.JobStatusPending, nil
}

const reclaimStaleSQL = `UPDATE processing_jobs SET
    status = 'pending',
    started_at = NULL,
    updated_at = NOW()
WHERE id IN (
    SELECT id FROM processing_jobs
    WHERE status = 'processing' AND started_at < $1
    ORDER BY started_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT $2
)`

func (r *JobRepo) ReclaimStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := r.db.Exec(ctx, reclaimStaleSQL, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *JobRepo) CancelPending(ctx context.Context, id core.ID) error {
	query, args, err := squirrel.Update("processing_jobs").
		Set("status", store.JobStatusFailed).
		Set("error_message", "canceled before processing").
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id, "status": store.JobStatusPending}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building job cancel query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("canceling job: %w", err)
	}
	return nil
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[store.JobStatus]int, error) {
	query, args, err := squirrel.Select("status", "COUNT(*) AS total").
		From("processing_jobs").
		GroupBy("status").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building job count query: %w", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()
	counts := make(map[store.JobStatus]int)
	for rows.Next() {
		var (
			status store.JobStatus
			total  int
		)
		if err := rows.Scan(&status, &total); err != nil {
			return nil, fmt.Errorf("scanning job counts: %w", err)
		}
		counts[status] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading job counts: %w", err)
	}
	return counts, nil
}

func (r *JobRepo) update(ctx context.Context, id core.ID, builder squirrel.UpdateBuilder) error {
	query, args, err := builder.
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building job update query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

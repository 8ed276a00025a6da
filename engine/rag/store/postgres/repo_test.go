package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/store"
	"github.com/ragline/ragline/engine/rag/store/postgres"
)

var documentTestColumns = []string{
	"id", "tenant_id", "namespace", "filename", "content_hash", "size_bytes",
	"mime_type", "storage_path", "status", "page_count", "vector_count",
	"error_message", "created_at", "updated_at",
}

var jobTestColumns = []string{
	"id", "document_id", "tenant_id", "namespace", "priority", "status",
	"retry_count", "max_retries", "error_message", "created_at",
	"started_at", "completed_at", "updated_at",
}

func TestDocumentRepo_Create(t *testing.T) {
	t.Run("Should insert a document row", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Documents()
		doc := &store.Document{
			ID:          core.MustNewID(),
			TenantID:    "tenant-a",
			Namespace:   "docs",
			Filename:    "report.pdf",
			ContentHash: "abc123",
			SizeBytes:   2048,
			MimeType:    "application/pdf",
			StoragePath: "tenant-a/report.pdf",
			Status:      store.DocumentStatusUploaded,
		}
		mockPool.ExpectExec("INSERT INTO documents").
			WithArgs(
				doc.ID, doc.TenantID, doc.Namespace, doc.Filename, doc.ContentHash,
				doc.SizeBytes, doc.MimeType, doc.StoragePath, doc.Status,
				doc.PageCount, doc.VectorCount, doc.ErrorMessage,
				pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		err = repo.Create(context.Background(), doc)
		assert.NoError(t, err)
		assert.False(t, doc.CreatedAt.IsZero())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestDocumentRepo_GetByID(t *testing.T) {
	t.Run("Should fetch a document by ID", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Documents()
		id := core.MustNewID()
		now := time.Now()
		rows := mockPool.NewRows(documentTestColumns).
			AddRow(
				id, "tenant-a", "docs", "report.pdf", "abc123", int64(2048),
				"application/pdf", "tenant-a/report.pdf", store.DocumentStatusReady,
				4, 12, "", now, now,
			)
		mockPool.ExpectQuery("SELECT (.+) FROM documents WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(rows)
		doc, err := repo.GetByID(context.Background(), id)
		assert.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, id, doc.ID)
		assert.Equal(t, store.DocumentStatusReady, doc.Status)
		assert.Equal(t, 12, doc.VectorCount)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should map missing rows to ErrNotFound", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Documents()
		id := core.MustNewID()
		mockPool.ExpectQuery("SELECT (.+) FROM documents WHERE id = \\$1").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)
		doc, err := repo.GetByID(context.Background(), id)
		assert.Nil(t, doc)
		assert.True(t, errors.Is(err, store.ErrNotFound))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestDocumentRepo_GetByContentHash(t *testing.T) {
	t.Run("Should scope the lookup to tenant and namespace", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Documents()
		id := core.MustNewID()
		now := time.Now()
		rows := mockPool.NewRows(documentTestColumns).
			AddRow(
				id, "tenant-a", "docs", "report.pdf", "abc123", int64(2048),
				"application/pdf", "tenant-a/report.pdf", store.DocumentStatusReady,
				4, 12, "", now, now,
			)
		mockPool.ExpectQuery("SELECT (.+) FROM documents WHERE content_hash = \\$1 AND namespace = \\$2 AND tenant_id = \\$3").
			WithArgs("abc123", "docs", "tenant-a").
			WillReturnRows(rows)
		doc, err := repo.GetByContentHash(context.Background(), "tenant-a", "docs", "abc123")
		assert.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "abc123", doc.ContentHash)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestDocumentRepo_UpdateStatus(t *testing.T) {
	t.Run("Should update status and error message", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Documents()
		id := core.MustNewID()
		mockPool.ExpectExec("UPDATE documents SET").
			WithArgs(store.DocumentStatusFailed, "extraction failed", pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		err = repo.UpdateStatus(context.Background(), id, store.DocumentStatusFailed, "extraction failed")
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return ErrNotFound when no row matches", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Documents()
		id := core.MustNewID()
		mockPool.ExpectExec("UPDATE documents SET").
			WithArgs(store.DocumentStatusReady, "", pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		err = repo.UpdateStatus(context.Background(), id, store.DocumentStatusReady, "")
		assert.True(t, errors.Is(err, store.ErrNotFound))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestDocumentRepo_Delete(t *testing.T) {
	t.Run("Should delete the document row", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Documents()
		id := core.MustNewID()
		mockPool.ExpectExec("DELETE FROM documents WHERE id = \\$1").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		err = repo.Delete(context.Background(), id)
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestJobRepo_ClaimNext(t *testing.T) {
	t.Run("Should claim and return the next pending job", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Jobs()
		jobID := core.MustNewID()
		docID := core.MustNewID()
		now := time.Now()
		var nilTime *time.Time
		rows := mockPool.NewRows(jobTestColumns).
			AddRow(
				jobID, docID, "tenant-a", "docs", 5, store.JobStatusProcessing,
				0, 3, "", now, &now, nilTime, now,
			)
		mockPool.ExpectQuery("UPDATE processing_jobs SET").
			WillReturnRows(rows)
		job, err := repo.ClaimNext(context.Background())
		assert.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobID, job.ID)
		assert.Equal(t, store.JobStatusProcessing, job.Status)
		require.NotNil(t, job.StartedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return ErrNotFound when the queue is drained", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Jobs()
		mockPool.ExpectQuery("UPDATE processing_jobs SET").
			WillReturnError(pgx.ErrNoRows)
		job, err := repo.ClaimNext(context.Background())
		assert.Nil(t, job)
		assert.True(t, errors.Is(err, store.ErrNotFound))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestJobRepo_IncrementRetry(t *testing.T) {
	t.Run("Should requeue while the retry budget remains", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Jobs()
		jobID := core.MustNewID()
		rows := mockPool.NewRows([]string{"status"}).AddRow(store.JobStatusPending)
		mockPool.ExpectQuery("UPDATE processing_jobs SET").
			WithArgs(jobID).
			WillReturnRows(rows)
		requeued, err := repo.IncrementRetry(context.Background(), jobID)
		assert.NoError(t, err)
		assert.True(t, requeued)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should report exhaustion when the job stays failed", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Jobs()
		jobID := core.MustNewID()
		rows := mockPool.NewRows([]string{"status"}).AddRow(store.JobStatusFailed)
		mockPool.ExpectQuery("UPDATE processing_jobs SET").
			WithArgs(jobID).
			WillReturnRows(rows)
		requeued, err := repo.IncrementRetry(context.Background(), jobID)
		assert.NoError(t, err)
		assert.False(t, requeued)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestJobRepo_ReclaimStale(t *testing.T) {
	t.Run("Should report how many jobs were reclaimed", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Jobs()
		cutoff := time.Now().Add(-10 * time.Minute)
		mockPool.ExpectExec("UPDATE processing_jobs SET").
			WithArgs(cutoff, 50).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))
		reclaimed, err := repo.ReclaimStale(context.Background(), cutoff, 50)
		assert.NoError(t, err)
		assert.Equal(t, 2, reclaimed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestJobRepo_CancelPending(t *testing.T) {
	t.Run("Should only target pending jobs", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Jobs()
		jobID := core.MustNewID()
		mockPool.ExpectExec("UPDATE processing_jobs SET").
			WithArgs(store.JobStatusFailed, "canceled before processing", pgxmock.AnyArg(), jobID, store.JobStatusPending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		err = repo.CancelPending(context.Background(), jobID)
		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestJobRepo_CountByStatus(t *testing.T) {
	t.Run("Should aggregate counts per status", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := postgres.NewStore(mockPool).Jobs()
		rows := mockPool.NewRows([]string{"status", "total"}).
			AddRow(store.JobStatusPending, 3).
			AddRow(store.JobStatusFailed, 1)
		mockPool.ExpectQuery("SELECT status, COUNT\\(\\*\\) AS total FROM processing_jobs GROUP BY status").
			WillReturnRows(rows)
		counts, err := repo.CountByStatus(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 3, counts[store.JobStatusPending])
		assert.Equal(t, 1, counts[store.JobStatusFailed])
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

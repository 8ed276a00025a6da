package store

import (
	"time"

	"github.com/ragline/ragline/engine/core"
)

// DocumentStatus tracks the ingestion lifecycle of a document.
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// JobStatus tracks a processing job through its state machine:
// pending -> processing -> {completed | failed}; failed -> retry -> pending
// while retry_count < max_retries, otherwise failed is terminal.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetry      JobStatus = "retry"
)

// EmbeddingStatus records how a chunk's vector was produced.
type EmbeddingStatus string

const (
	EmbeddingStatusRemote   EmbeddingStatus = "embedded"
	EmbeddingStatusFallback EmbeddingStatus = "fallback"
)

// Document is one uploaded file. Deletion is caller-initiated only and
// cascades to pages, chunks and vector points.
type Document struct {
	ID           core.ID        `db:"id"`
	TenantID     string         `db:"tenant_id"`
	Namespace    string         `db:"namespace"`
	Filename     string         `db:"filename"`
	ContentHash  string         `db:"content_hash"`
	SizeBytes    int64          `db:"size_bytes"`
	MimeType     string         `db:"mime_type"`
	StoragePath  string         `db:"storage_path"`
	Status       DocumentStatus `db:"status"`
	PageCount    int            `db:"page_count"`
	VectorCount  int            `db:"vector_count"`
	ErrorMessage string         `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// Page holds extraction metadata for one page of a document. Extracted text
// is not duplicated here; chunks carry the text.
type Page struct {
	ID         core.ID   `db:"id"`
	DocumentID core.ID   `db:"document_id"`
	PageNumber int       `db:"page_number"`
	TextLength int       `db:"text_length"`
	OCRUsed    bool      `db:"ocr_used"`
	HasText    bool      `db:"has_text"`
	CreatedAt  time.Time `db:"created_at"`
}

// Chunk is a contiguous slice of a document's extracted text. One chunk maps
// to at most one vector point; the point's lifecycle is owned by the vector
// store, so deleting a chunk must explicitly delete its point.
type Chunk struct {
	ID              core.ID         `db:"id"`
	DocumentID      core.ID         `db:"document_id"`
	ChunkIndex      int             `db:"chunk_index"`
	Text            string          `db:"text"`
	ByteLength      int             `db:"byte_length"`
	PageStart       int             `db:"page_start"`
	PageEnd         int             `db:"page_end"`
	ContentHash     string          `db:"content_hash"`
	PointID         string          `db:"point_id"`
	EmbeddingStatus EmbeddingStatus `db:"embedding_status"`
	CreatedAt       time.Time       `db:"created_at"`
}

// ProcessingJob is one unit of asynchronous ingestion work.
type ProcessingJob struct {
	ID           core.ID    `db:"id"`
	DocumentID   core.ID    `db:"document_id"`
	TenantID     string     `db:"tenant_id"`
	Namespace    string     `db:"namespace"`
	Priority     int        `db:"priority"`
	Status       JobStatus  `db:"status"`
	RetryCount   int        `db:"retry_count"`
	MaxRetries   int        `db:"max_retries"`
	ErrorMessage string     `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

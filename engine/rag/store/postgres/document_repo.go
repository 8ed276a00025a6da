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

var documentColumns = []string{
	"id", "tenant_id", "namespace", "filename", "content_hash", "size_bytes",
	"mime_type", "storage_path", "status", "page_count", "vector_count",
	"error_message", "created_at", "updated_at",
}

// DocumentRepo implements store.DocumentRepository.
type DocumentRepo struct {
	db DBInterface
}

func (r *DocumentRepo) Create(ctx context.Context, doc *store.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	query, args, err := squirrel.Insert("documents").
		Columns(documentColumns...).
		Values(
			doc.ID, doc.TenantID, doc.Namespace, doc.Filename, doc.ContentHash,
			doc.SizeBytes, doc.MimeType, doc.StoragePath, doc.Status,
			doc.PageCount, doc.VectorCount, doc.ErrorMessage,
			doc.CreatedAt, doc.UpdatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id core.ID) (*store.Document, error) {
	query, args, err := squirrel.Select(documentColumns...).
		From("documents").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var doc store.Document
	if err := pgxscan.Get(ctx, r.db, &doc, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepo) GetByContentHash(
	ctx context.Context,
	tenantID, namespace, hash string,
) (*store.Document, error) {
	query, args, err := squirrel.Select(documentColumns...).
		From("documents").
		Where(squirrel.Eq{"tenant_id": tenantID, "namespace": namespace, "content_hash": hash}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var doc store.Document
	if err := pgxscan.Get(ctx, r.db, &doc, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepo) UpdateStatus(
	ctx context.Context,
	id core.ID,
	status store.DocumentStatus,
	errorMessage string,
) error {
	query, args, err := squirrel.Update("documents").
		Set("status", status).
		Set("error_message", errorMessage).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) UpdateCounts(ctx context.Context, id core.ID, pageCount, vectorCount int) error {
	query, args, err := squirrel.Update("documents").
		Set("page_count", pageCount).
		Set("vector_count", vectorCount).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating document counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes the document row; pages and chunks cascade via foreign keys.
func (r *DocumentRepo) Delete(ctx context.Context, id core.ID) error {
	query, args, err := squirrel.Delete("documents").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

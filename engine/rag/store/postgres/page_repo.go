package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/store"
)

// PageRepo implements store.PageRepository.
type PageRepo struct {
	db DBInterface
}

// ReplaceForDocument swaps the full page set inside one transaction so a
// crashed re-ingestion can never leave a partial mix of old and new pages.
func (r *PageRepo) ReplaceForDocument(
	ctx context.Context,
	documentID core.ID,
	pages []store.Page,
) (err error) {
	tx, txErr := r.db.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("beginning page replace tx: %w", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("rolling back page replace: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("committing page replace: %w", commitErr)
		}
	}()
	deleteQuery, deleteArgs, err := squirrel.Delete("document_pages").
		Where(squirrel.Eq{"document_id": documentID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building page delete query: %w", err)
	}
	if _, err = tx.Exec(ctx, deleteQuery, deleteArgs...); err != nil {
		return fmt.Errorf("deleting pages: %w", err)
	}
	if len(pages) == 0 {
		return nil
	}
	builder := squirrel.Insert("document_pages").
		Columns("id", "document_id", "page_number", "text_length", "ocr_used", "has_text", "created_at").
		PlaceholderFormat(squirrel.Dollar)
	now := time.Now().UTC()
	for i := range pages {
		page := pages[i]
		if page.ID.IsZero() {
			page.ID = core.MustNewID()
		}
		builder = builder.Values(
			page.ID, documentID, page.PageNumber, page.TextLength,
			page.OCRUsed, page.HasText, now,
		)
	}
	insertQuery, insertArgs, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("building page insert query: %w", err)
	}
	if _, err = tx.Exec(ctx, insertQuery, insertArgs...); err != nil {
		return fmt.Errorf("inserting pages: %w", err)
	}
	return nil
}

func (r *PageRepo) ListByDocument(ctx context.Context, documentID core.ID) ([]store.Page, error) {
	query, args, err := squirrel.Select(
		"id", "document_id", "page_number", "text_length", "ocr_used", "has_text", "created_at",
	).
		From("document_pages").
		Where(squirrel.Eq{"document_id": documentID}).
		OrderBy("page_number ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building page select query: %w", err)
	}
	var pages []store.Page
	if err := pgxscan.Select(ctx, r.db, &pages, query, args...); err != nil {
		return nil, fmt.Errorf("scanning pages: %w", err)
	}
	return pages, nil
}

func (r *PageRepo) DeleteForDocument(ctx context.Context, documentID core.ID) error {
	query, args, err := squirrel.Delete("document_pages").
		Where(squirrel.Eq{"document_id": documentID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building page delete query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting pages: %w", err)
	}
	return nil
}

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

var chunkColumns = []string{
	"id", "document_id", "chunk_index", "text", "byte_length", "page_start",
	"page_end", "content_hash", "point_id", "embedding_status", "created_at",
}

// ChunkRepo implements store.ChunkRepository.
type ChunkRepo struct {
	db DBInterface
}

// ReplaceForDocument swaps the full chunk set inside one transaction; see
// PageRepo.ReplaceForDocument for the rationale.
func (r *ChunkRepo) ReplaceForDocument(
	ctx context.Context,
	documentID core.ID,
	chunks []store.Chunk,
) (err error) {
	tx, txErr := r.db.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("beginning chunk replace tx: %w", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("rolling back chunk replace: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("committing chunk replace: %w", commitErr)
		}
	}()
	deleteQuery, deleteArgs, err := squirrel.Delete("document_chunks").
		Where(squirrel.Eq{"document_id": documentID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building chunk delete query: %w", err)
	}
	if _, err = tx.Exec(ctx, deleteQuery, deleteArgs...); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	builder := squirrel.Insert("document_chunks").
		Columns(chunkColumns...).
		PlaceholderFormat(squirrel.Dollar)
	now := time.Now().UTC()
	for i := range chunks {
		ch := chunks[i]
		if ch.ID.IsZero() {
			ch.ID = core.MustNewID()
		}
		builder = builder.Values(
			ch.ID, documentID, ch.ChunkIndex, ch.Text, ch.ByteLength,
			ch.PageStart, ch.PageEnd, ch.ContentHash, ch.PointID,
			ch.EmbeddingStatus, now,
		)
	}
	insertQuery, insertArgs, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("building chunk insert query: %w", err)
	}
	if _, err = tx.Exec(ctx, insertQuery, insertArgs...); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID core.ID) ([]store.Chunk, error) {
	query, args, err := squirrel.Select(chunkColumns...).
		From("document_chunks").
		Where(squirrel.Eq{"document_id": documentID}).
		OrderBy("chunk_index ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building chunk select query: %w", err)
	}
	var chunks []store.Chunk
	if err := pgxscan.Select(ctx, r.db, &chunks, query, args...); err != nil {
		return nil, fmt.Errorf("scanning chunks: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepo) CountByDocument(ctx context.Context, documentID core.ID) (int, error) {
	query, args, err := squirrel.Select("COUNT(*)").
		From("document_chunks").
		Where(squirrel.Eq{"document_id": documentID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building chunk count query: %w", err)
	}
	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

func (r *ChunkRepo) DeleteForDocument(ctx context.Context, documentID core.ID) error {
	query, args, err := squirrel.Delete("document_chunks").
		Where(squirrel.Eq{"document_id": documentID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building chunk delete query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

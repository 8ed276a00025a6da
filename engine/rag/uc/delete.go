package uc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/store"
	"github.com/ragline/ragline/engine/rag/vectordb"
	"github.com/ragline/ragline/pkg/logger"
)

type DeleteDocumentInput struct {
	DocumentID core.ID
}

type DeleteDocument struct {
	docs    store.DocumentRepository
	pages   store.PageRepository
	chunks  store.ChunkRepository
	blobs   store.BlobStore
	vectors vectordb.Store
	prefix  string
}

func NewDeleteDocument(
	docs store.DocumentRepository,
	pages store.PageRepository,
	chunks store.ChunkRepository,
	blobs store.BlobStore,
	vectors vectordb.Store,
	collectionPrefix string,
) *DeleteDocument {
	return &DeleteDocument{
		docs:    docs,
		pages:   pages,
		chunks:  chunks,
		blobs:   blobs,
		vectors: vectors,
		prefix:  collectionPrefix,
	}
}

// Execute removes a document and everything derived from it. Vector point
// deletion is attempted first but never blocks the local deletion: orphaned
// vectors are regenerable, orphaned rows are not.
func (uc *DeleteDocument) Execute(ctx context.Context, in *DeleteDocumentInput) error {
	if in == nil || in.DocumentID == "" {
		return ErrInvalidInput
	}
	doc, err := uc.docs.GetByID(ctx, in.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get document: %w", err)
	}
	log := logger.FromContext(ctx).With("document_id", doc.ID, "tenant_id", doc.TenantID)
	uc.deleteVectors(ctx, doc, log)
	if err := uc.chunks.DeleteForDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := uc.pages.DeleteForDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	if err := uc.blobs.Delete(ctx, doc.StoragePath); err != nil {
		log.Warn("Failed to delete document bytes", "storage_path", doc.StoragePath, "error", err)
	}
	if err := uc.docs.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	log.Info("Document deleted")
	return nil
}

func (uc *DeleteDocument) deleteVectors(ctx context.Context, doc *store.Document, log logger.Logger) {
	collection, err := vectordb.CollectionName(uc.prefix, doc.TenantID, doc.Namespace)
	if err != nil {
		log.Warn("Skipping vector cleanup, invalid collection name", "error", err)
		return
	}
	selector := vectordb.Selector{Match: map[string]any{"document_id": doc.ID.String()}}
	if err := uc.vectors.Delete(ctx, collection, selector); err != nil {
		log.Warn("Vector point deletion failed, continuing local deletion", "error", err)
	}
}

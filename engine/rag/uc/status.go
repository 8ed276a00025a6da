package uc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ragline/ragline/engine/core"
	"github.com/ragline/ragline/engine/rag/store"
)

type StatusInput struct {
	DocumentID core.ID
}

type StatusOutput struct {
	Status store.DocumentStatus
	// Progress is a coarse percentage derived from the lifecycle state.
	Progress        int
	PagesProcessed  int
	ChunksProcessed int
	ErrorMessage    string
}

type Status struct {
	docs   store.DocumentRepository
	chunks store.ChunkRepository
}

func NewStatus(docs store.DocumentRepository, chunks store.ChunkRepository) *Status {
	return &Status{docs: docs, chunks: chunks}
}

func (uc *Status) Execute(ctx context.Context, in *StatusInput) (*StatusOutput, error) {
	if in == nil || in.DocumentID == "" {
		return nil, ErrInvalidInput
	}
	doc, err := uc.docs.GetByID(ctx, in.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	chunkCount, err := uc.chunks.CountByDocument(ctx, in.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	return &StatusOutput{
		Status:          doc.Status,
		Progress:        progressFor(doc.Status),
		PagesProcessed:  doc.PageCount,
		ChunksProcessed: chunkCount,
		ErrorMessage:    doc.ErrorMessage,
	}, nil
}

func progressFor(status store.DocumentStatus) int {
	switch status {
	case store.DocumentStatusUploaded:
		return 10
	case store.DocumentStatusProcessing:
		return 50
	case store.DocumentStatusReady, store.DocumentStatusFailed:
		return 100
	}
	return 0
}

package rag

import (
	"context"
	"errors"
	"net"

	"github.com/ragline/ragline/engine/rag/store"
	"github.com/ragline/ragline/engine/rag/uc"
	"github.com/ragline/ragline/engine/rag/vectordb"
)

// ErrorKind buckets every failure a caller can observe. Per-item embedding
// failures never surface here: chunks degrade to fallback vectors instead
// of erroring, so PermanentItem only appears when a single chunk cannot be
// stored at all.
type ErrorKind string

const (
	// ErrorKindTransient covers timeouts and momentary backend outages;
	// the driving job may retry.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanentItem marks a single-chunk failure inside an
	// otherwise healthy run.
	ErrorKindPermanentItem ErrorKind = "permanent-item"
	// ErrorKindPermanentDocument marks failures retrying cannot fix:
	// corrupt files, invalid input, missing documents.
	ErrorKindPermanentDocument ErrorKind = "permanent-document"
	// ErrorKindUnavailable means the vector database is down and the
	// engine is running in degraded mode.
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// ClassifyError maps an error onto the caller-visible taxonomy.
func ClassifyError(err error) ErrorKind {
	if errors.Is(err, vectordb.ErrUnavailable) {
		return ErrorKindUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTransient
	}
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, uc.ErrNotFound),
		errors.Is(err, uc.ErrInvalidInput),
		errors.Is(err, uc.ErrTenantMissing),
		errors.Is(err, uc.ErrNamespaceMissing),
		errors.Is(err, uc.ErrQueryMissing),
		errors.Is(err, uc.ErrFilenameMissing),
		errors.Is(err, uc.ErrEmptyDocument):
		return ErrorKindPermanentDocument
	}
	return ErrorKindTransient
}

// failResult builds the failure envelope with the taxonomy kind attached.
func failResult(err error) vectordb.OpResult {
	result := vectordb.Failed(err)
	result.Data = ClassifyError(err)
	return result
}

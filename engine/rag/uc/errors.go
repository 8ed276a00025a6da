// Package uc holds the transport-agnostic use cases of the RAG engine.
// Each use case is a struct with an Execute method so surrounding layers
// (HTTP handlers, workers, tests) share one code path.
package uc

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrTenantMissing    = errors.New("tenant missing")
	ErrNamespaceMissing = errors.New("namespace missing")
	ErrQueryMissing     = errors.New("query missing")
	ErrFilenameMissing  = errors.New("filename missing")
	ErrEmptyDocument    = errors.New("document is empty")
	ErrNotFound         = errors.New("document not found")
)

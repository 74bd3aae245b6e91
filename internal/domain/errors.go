package domain

import "errors"

// Domain errors represent business-rule failures. Infrastructure failures
// are wrapped with ErrConnection so callers can tell them apart.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateResource indicates the source URL is already ingested.
	// Recoverable: callers should fetch the existing resource instead.
	ErrDuplicateResource = errors.New("resource URL already exists")

	// ErrOrderConflict indicates the chunk order is already used within
	// the resource. The caller must pick the next free order; the write
	// is never retried automatically.
	ErrOrderConflict = errors.New("chunk order already used for resource")

	// ErrArtifactConflict indicates a parsed artifact already exists for
	// the (resource, parse setting) pair.
	ErrArtifactConflict = errors.New("artifact already exists for parse setting")

	// ErrDimensionMismatch indicates an embedding vector's length
	// disagrees with the model's registered dimensionality. Fatal to
	// that write.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidQuery indicates malformed query syntax.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidThreshold indicates a similarity threshold outside [-1, 1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrTimeout indicates a query exceeded the caller-supplied deadline.
	// Partial results are never returned.
	ErrTimeout = errors.New("query deadline exceeded")

	// ErrConnection indicates the underlying store is unreachable or
	// closed. Surfaced to the caller for retry with backoff.
	ErrConnection = errors.New("store unreachable")
)

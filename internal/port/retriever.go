package port

import (
	"context"

	"ragstore/internal/domain"
)

// LexicalSearcher answers ranked keyword queries over indexed chunk text.
type LexicalSearcher interface {
	// SearchText returns up to limit chunks descending by relevance.
	// Query terms are implicitly ANDed; quoted phrases must match
	// contiguously. No matches yields an empty slice, not an error.
	SearchText(ctx context.Context, query string, limit int) ([]domain.ScoredChunk, error)
}

// VectorSearcher answers similarity queries over stored embeddings.
type VectorSearcher interface {
	// SearchVector returns chunks whose similarity (1 - cosine distance)
	// to the query vector exceeds threshold, descending by similarity.
	SearchVector(ctx context.Context, query []float32, kind domain.EmbeddingKind, model string, threshold float64, limit int) ([]domain.ScoredChunk, error)
}

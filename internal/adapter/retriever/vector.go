package retriever

import (
	"context"
	"fmt"
	"math"

	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// cosineEpsilon absorbs float error so a threshold of exactly 1.0 still
// admits duplicate vectors whose similarity computes to 1.0 ± ulp.
const cosineEpsilon = 1e-9

// Vector answers similarity queries with a brute-force cosine scan over
// the embeddings stored for one (kind, model) pair. Exhaustive scanning
// keeps repeated queries on an unchanged index byte-for-byte identical.
type Vector struct {
	store port.CorpusStore
}

var _ port.VectorSearcher = (*Vector)(nil)

// NewVector creates a vector searcher over the corpus store.
func NewVector(store port.CorpusStore) *Vector {
	return &Vector{store: store}
}

// Upsert attaches an embedding to a chunk, registering the model's
// dimensionality on first sight.
func (r *Vector) Upsert(ctx context.Context, emb domain.ChunkEmbedding) error {
	return r.store.PutEmbedding(ctx, emb)
}

// SearchVector returns chunks with similarity (1 - cosine distance) above
// threshold, strictly descending, ties broken by chunk id ascending. A
// model with no embeddings yields an empty result, not an error.
func (r *Vector) SearchVector(ctx context.Context, query []float32, kind domain.EmbeddingKind, model string, threshold float64, limit int) ([]domain.ScoredChunk, error) {
	if threshold < -1 || threshold > 1 {
		return nil, fmt.Errorf("%w: %g not in [-1, 1]", domain.ErrInvalidThreshold, threshold)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown embedding kind %q", domain.ErrInvalidQuery, kind)
	}
	if limit == 0 {
		return nil, nil
	}

	embs, err := r.store.EmbeddingsByModel(ctx, kind, model)
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 {
		return nil, nil
	}
	if len(query) != embs[0].Dim {
		return nil, fmt.Errorf("%w: query has dim %d, model %s has dim %d",
			domain.ErrDimensionMismatch, len(query), model, embs[0].Dim)
	}

	results := make([]domain.ScoredChunk, 0, len(embs))
	for _, emb := range embs {
		sim := cosineSimilarity(query, emb.Vector)
		if sim > threshold-cosineEpsilon {
			results = append(results, domain.ScoredChunk{ChunkID: emb.ChunkID, Score: sim})
		}
	}

	sortScored(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cosineSimilarity computes the cosine similarity of two equal-length
// vectors. Zero-magnitude vectors have no direction and score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na += va * va
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

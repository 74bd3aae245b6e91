package retriever

import (
	"context"
	"fmt"
	"sync"

	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// Hybrid fuses lexical and vector result sets into one ranked list using a
// weighted sum. The two sub-queries run independently; a chunk present on
// only one side takes 0 for the missing side's score.
type Hybrid struct {
	lexical port.LexicalSearcher
	vector  port.VectorSearcher
}

// NewHybrid creates a fusion searcher over the two indexes.
func NewHybrid(lexical port.LexicalSearcher, vector port.VectorSearcher) *Hybrid {
	return &Hybrid{lexical: lexical, vector: vector}
}

// HybridParams are the caller-supplied fusion inputs.
type HybridParams struct {
	TextQuery    string
	QueryVector  []float32
	Kind         domain.EmbeddingKind
	Model        string
	TextWeight   float64
	VectorWeight float64
	Limit        int
}

// Search runs both sub-queries and merges them. A side whose weight is
// exactly 0 is skipped entirely — unless both weights are 0, in which case
// both still run and ordering falls to the chunk-id tie-break alone. If
// either sub-query fails the whole call fails; an absent result is never
// silently treated as empty.
func (h *Hybrid) Search(ctx context.Context, p HybridParams) ([]domain.ScoredChunk, error) {
	if p.Limit <= 0 {
		return nil, nil
	}

	// The fused winner may sit below p.Limit in an individual list, so
	// each side contributes an expanded candidate pool.
	pool := p.Limit * 3
	if pool < 20 {
		pool = 20
	}

	bothZero := p.TextWeight == 0 && p.VectorWeight == 0
	runText := p.TextWeight != 0 || bothZero
	runVector := p.VectorWeight != 0 || bothZero

	var (
		wg          sync.WaitGroup
		textResults []domain.ScoredChunk
		vecResults  []domain.ScoredChunk
		textErr     error
		vecErr      error
	)

	if runText && p.TextQuery != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			textResults, textErr = h.lexical.SearchText(ctx, p.TextQuery, pool)
		}()
	}
	if runVector && len(p.QueryVector) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// No similarity floor here: fusion considers every stored
			// vector, mirroring the full outer join it implements.
			vecResults, vecErr = h.vector.SearchVector(ctx, p.QueryVector, p.Kind, p.Model, -1, pool)
		}()
	}
	wg.Wait()

	if textErr != nil {
		return nil, fmt.Errorf("lexical search: %w", textErr)
	}
	if vecErr != nil {
		return nil, fmt.Errorf("vector search: %w", vecErr)
	}

	fused := fuse(textResults, vecResults, p.TextWeight, p.VectorWeight)
	if len(fused) > p.Limit {
		fused = fused[:p.Limit]
	}
	return fused, nil
}

// fuse performs the full outer join keyed by chunk id and orders the
// result by combined score descending, chunk id ascending.
func fuse(text, vector []domain.ScoredChunk, textWeight, vectorWeight float64) []domain.ScoredChunk {
	combined := make(map[string]float64, len(text)+len(vector))
	for _, r := range text {
		combined[r.ChunkID] += textWeight * r.Score
	}
	for _, r := range vector {
		combined[r.ChunkID] += vectorWeight * r.Score
	}

	out := make([]domain.ScoredChunk, 0, len(combined))
	for id, score := range combined {
		out = append(out, domain.ScoredChunk{ChunkID: id, Score: score})
	}
	sortScored(out)
	return out
}

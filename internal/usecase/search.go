package usecase

import (
	"context"
	"fmt"

	"ragstore/internal/adapter/retriever"
	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// SearchService answers read queries over the corpus. It owns hydration:
// the retrievers rank chunk ids, the service fills in the chunk payloads.
type SearchService struct {
	store  port.CorpusStore
	hybrid *retriever.Hybrid
}

func NewSearchService(store port.CorpusStore, hybrid *retriever.Hybrid) *SearchService {
	return &SearchService{store: store, hybrid: hybrid}
}

// HybridQuery carries the caller-facing parameters of a hybrid search.
type HybridQuery struct {
	Text         string
	Vector       []float32
	Kind         domain.EmbeddingKind
	Model        string
	TextWeight   float64
	VectorWeight float64
	Limit        int
}

// HybridSearch fuses lexical and vector rankings and returns hydrated
// results in fused order.
func (s *SearchService) HybridSearch(ctx context.Context, q HybridQuery) ([]domain.SearchResult, error) {
	scored, err := s.hybrid.Search(ctx, retriever.HybridParams{
		TextQuery:    q.Text,
		QueryVector:  q.Vector,
		Kind:         q.Kind,
		Model:        q.Model,
		TextWeight:   q.TextWeight,
		VectorWeight: q.VectorWeight,
		Limit:        q.Limit,
	})
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, scored)
}

// SearchText runs a pure keyword query.
func (s *SearchService) SearchText(ctx context.Context, lexical port.LexicalSearcher, query string, limit int) ([]domain.SearchResult, error) {
	scored, err := lexical.SearchText(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, scored)
}

// SearchVector runs a pure similarity query.
func (s *SearchService) SearchVector(ctx context.Context, vector port.VectorSearcher, query []float32, kind domain.EmbeddingKind, model string, threshold float64, limit int) ([]domain.SearchResult, error) {
	scored, err := vector.SearchVector(ctx, query, kind, model, threshold, limit)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, scored)
}

// Statistics reports corpus-wide counts.
func (s *SearchService) Statistics(ctx context.Context) (domain.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *SearchService) hydrate(ctx context.Context, scored []domain.ScoredChunk) ([]domain.SearchResult, error) {
	results := make([]domain.SearchResult, 0, len(scored))
	for _, sc := range scored {
		chunk, err := s.store.GetChunk(ctx, sc.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("hydrate chunk %s: %w", sc.ChunkID, err)
		}
		results = append(results, domain.SearchResult{
			ChunkID:       chunk.ID,
			ResourceID:    chunk.ResourceID,
			Text:          chunk.Text,
			Description:   chunk.Description,
			CombinedScore: sc.Score,
		})
	}
	return results, nil
}

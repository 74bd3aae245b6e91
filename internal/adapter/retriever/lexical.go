package retriever

import (
	"context"
	"math"
	"sort"

	"ragstore/internal/adapter/analyzer"
	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// Lexical ranks chunks by keyword relevance using BM25 over the posting
// lists the ingestion pipeline maintains. Query terms are implicitly ANDed
// and quoted phrases are verified against the stored token sequence, so the
// score is monotonic in term overlap and deterministic for a fixed index.
type Lexical struct {
	store     port.CorpusStore
	tokenizer *analyzer.Tokenizer
	field     domain.Field
	k1        float64
	b         float64
}

var _ port.LexicalSearcher = (*Lexical)(nil)

// NewLexical creates a lexical searcher over the chunk text field.
func NewLexical(store port.CorpusStore, tokenizer *analyzer.Tokenizer, k1, b float64) *Lexical {
	return &Lexical{
		store:     store,
		tokenizer: tokenizer,
		field:     domain.FieldText,
		k1:        k1,
		b:         b,
	}
}

// SearchText returns up to limit chunks descending by BM25 score, ties
// broken by chunk id ascending. A query with no matches returns an empty
// result, never an error.
func (r *Lexical) SearchText(ctx context.Context, query string, limit int) ([]domain.ScoredChunk, error) {
	parsed, err := r.tokenizer.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	if parsed.Empty() || limit == 0 {
		return nil, nil
	}

	stats, err := r.store.CorpusStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.TotalChunks == 0 {
		return nil, nil
	}

	terms := uniqueTerms(parsed.Terms)

	// Implicit AND: every term must have postings, and a candidate must
	// appear in every term's posting list.
	postings := make(map[string][]domain.Posting, len(terms))
	for _, term := range terms {
		list, err := r.store.GetPostings(ctx, r.field, term)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		postings[term] = list
	}

	candidates := intersect(terms, postings)
	if len(candidates) == 0 {
		return nil, nil
	}

	N := float64(stats.TotalChunks)
	avgDl := stats.AvgChunkLen()

	results := make([]domain.ScoredChunk, 0, len(candidates))
	for _, chunkID := range candidates {
		chunk, err := r.store.GetChunk(ctx, chunkID)
		if err != nil {
			return nil, err
		}

		if !matchesAllPhrases(chunk.Tokens(r.field), parsed.Phrases) {
			continue
		}

		dl := float64(len(chunk.Tokens(r.field)))
		score := 0.0
		for _, term := range terms {
			tf := termFrequency(postings[term], chunkID)
			if tf == 0 {
				continue
			}
			n := float64(len(postings[term]))
			idf := math.Log((N-n+0.5)/(n+0.5) + 1)
			tfF := float64(tf)
			score += idf * (tfF * (r.k1 + 1)) / (tfF + r.k1*(1-r.b+r.b*dl/avgDl))
		}

		results = append(results, domain.ScoredChunk{ChunkID: chunkID, Score: score})
	}

	sortScored(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// intersect returns the chunk ids present in every term's posting list,
// sorted ascending for determinism.
func intersect(terms []string, postings map[string][]domain.Posting) []string {
	counts := make(map[string]int)
	for _, term := range terms {
		for _, p := range postings[term] {
			counts[p.ChunkID]++
		}
	}
	var out []string
	for id, c := range counts {
		if c == len(terms) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func termFrequency(postings []domain.Posting, chunkID string) int {
	for _, p := range postings {
		if p.ChunkID == chunkID {
			return p.TF
		}
	}
	return 0
}

func matchesAllPhrases(tokens []string, phrases [][]string) bool {
	for _, phrase := range phrases {
		if !analyzer.MatchesPhrase(tokens, phrase) {
			return false
		}
	}
	return true
}

// sortScored orders descending by score with the chunk-id tie-break that
// makes result order a total order.
func sortScored(results []domain.ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

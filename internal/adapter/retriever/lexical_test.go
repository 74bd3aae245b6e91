package retriever

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"ragstore/internal/adapter/analyzer"
	"ragstore/internal/adapter/store"
	"ragstore/internal/domain"
)

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "corpus.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	err = st.CreateResource(context.Background(), domain.Resource{
		ID:        "res1",
		SourceURL: "https://example.com/doc",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func addChunk(t *testing.T, st *store.BoltStore, tok *analyzer.Tokenizer, id string, order int, text string) {
	t.Helper()
	chunk := domain.Chunk{
		ID:         id,
		ResourceID: "res1",
		Order:      order,
		Text:       text,
		TextTokens: tok.Tokenize(text),
		CreatedAt:  time.Now().UTC(),
	}
	postings := map[domain.Field]map[string]int{}
	if tf := tok.TermFrequencies(text); len(tf) > 0 {
		postings[domain.FieldText] = tf
	}
	if err := st.InsertChunk(context.Background(), chunk, postings, nil); err != nil {
		t.Fatal(err)
	}
}

func TestLexicalRanking(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)

	addChunk(t, st, tok, "chunk1", 0, "This is a test document about authentication and login")
	addChunk(t, st, tok, "chunk2", 1, "Database connection pooling and query optimization")
	addChunk(t, st, tok, "chunk3", 2, "User authentication with JWT tokens and OAuth")

	lex := NewLexical(st, tok, 1.2, 0.75)

	results, err := lex.SearchText(context.Background(), "authentication", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for 'authentication', got %d", len(results))
	}
	for _, r := range results {
		if r.ChunkID == "chunk2" {
			t.Error("chunk2 does not mention authentication")
		}
		if r.Score <= 0 {
			t.Errorf("expected positive score, got %g", r.Score)
		}
	}

	results, err = lex.SearchText(context.Background(), "database", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChunkID != "chunk2" {
		t.Fatalf("expected only chunk2 for 'database', got %v", results)
	}
}

func TestLexicalImplicitAND(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)

	addChunk(t, st, tok, "chunk1", 0, "authentication and login flows")
	addChunk(t, st, tok, "chunk2", 1, "database connection pooling")

	lex := NewLexical(st, tok, 1.2, 0.75)

	// No chunk contains both terms.
	results, err := lex.SearchText(context.Background(), "authentication database", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results when terms never co-occur, got %d", len(results))
	}

	// A term missing from the corpus entirely also empties the result.
	results, err = lex.SearchText(context.Background(), "authentication zzznonexistent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results with an unknown term, got %d", len(results))
	}
}

func TestLexicalPhraseMatching(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)

	addChunk(t, st, tok, "chunk1", 0, "the hybrid retrieval engine merges both rankings")
	addChunk(t, st, tok, "chunk2", 1, "the engine performs retrieval over hybrid sources")

	lex := NewLexical(st, tok, 1.2, 0.75)

	results, err := lex.SearchText(context.Background(), `"retrieval engine"`, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChunkID != "chunk1" {
		t.Fatalf("expected only chunk1 to match the phrase, got %v", results)
	}

	// Same words in a different order are not a phrase match.
	results, err = lex.SearchText(context.Background(), `"engine merges retrieval"`, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no phrase match, got %d results", len(results))
	}
}

func TestLexicalInvalidQuery(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)
	lex := NewLexical(st, tok, 1.2, 0.75)

	_, err := lex.SearchText(context.Background(), `broken "phrase`, 10)
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestLexicalEmptyQuery(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)
	addChunk(t, st, tok, "chunk1", 0, "some indexed content")

	lex := NewLexical(st, tok, 1.2, 0.75)

	for _, q := range []string{"", "   ", "the and of"} {
		results, err := lex.SearchText(context.Background(), q, 10)
		if err != nil {
			t.Fatalf("query %q: %v", q, err)
		}
		if len(results) != 0 {
			t.Errorf("query %q: expected no results, got %d", q, len(results))
		}
	}
}

func TestLexicalTieBreakByChunkID(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)

	// Identical texts produce identical scores.
	addChunk(t, st, tok, "chunk-b", 0, "identical ranking text")
	addChunk(t, st, tok, "chunk-a", 1, "identical ranking text")
	addChunk(t, st, tok, "chunk-c", 2, "identical ranking text")

	lex := NewLexical(st, tok, 1.2, 0.75)

	results, err := lex.SearchText(context.Background(), "identical ranking", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []string{"chunk-a", "chunk-b", "chunk-c"}
	for i, r := range results {
		if r.ChunkID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], r.ChunkID)
		}
	}
}

func TestLexicalLimit(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)

	for i := 0; i < 5; i++ {
		addChunk(t, st, tok, fmt.Sprintf("chunk%d", i), i, "shared keyword content")
	}

	lex := NewLexical(st, tok, 1.2, 0.75)

	results, err := lex.SearchText(context.Background(), "keyword", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("expected limit to cap results at 3, got %d", len(results))
	}
}

func TestLexicalLengthNormalization(t *testing.T) {
	st := newTestStore(t)
	tok := analyzer.NewTokenizer(true)

	addChunk(t, st, tok, "chunk-long", 0, "fusion combines lexical scores with vector scores across many candidate documents before ranking")
	addChunk(t, st, tok, "chunk-short", 1, "fusion ranking")

	lex := NewLexical(st, tok, 1.2, 0.75)

	results, err := lex.SearchText(context.Background(), "fusion", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Equal term frequency, so the shorter chunk wins on length
	// normalization against the corpus average.
	if results[0].ChunkID != "chunk-short" {
		t.Errorf("expected chunk-short first, got %s", results[0].ChunkID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("expected strictly higher score for shorter chunk, got %g vs %g", results[0].Score, results[1].Score)
	}
}

package retriever

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"ragstore/internal/adapter/store"
	"ragstore/internal/domain"
)

func addEmbeddedChunk(t *testing.T, st *store.BoltStore, id string, order int, model string, vec []float32) {
	t.Helper()
	chunk := domain.Chunk{
		ID:         id,
		ResourceID: "res1",
		Order:      order,
		Text:       "chunk " + id,
		CreatedAt:  time.Now().UTC(),
	}
	emb := domain.ChunkEmbedding{
		Kind:   domain.KindChunkText,
		Model:  model,
		Dim:    len(vec),
		Vector: vec,
	}
	if err := st.InsertChunk(context.Background(), chunk, nil, []domain.ChunkEmbedding{emb}); err != nil {
		t.Fatal(err)
	}
}

func TestVectorSearchOrdering(t *testing.T) {
	st := newTestStore(t)
	vec := NewVector(st)

	addEmbeddedChunk(t, st, "chunk1", 0, "m", []float32{1, 0, 0})
	addEmbeddedChunk(t, st, "chunk2", 1, "m", []float32{0.7, 0.7, 0})
	addEmbeddedChunk(t, st, "chunk3", 2, "m", []float32{0, 1, 0})

	results, err := vec.SearchVector(context.Background(), []float32{1, 0, 0}, domain.KindChunkText, "m", -1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []string{"chunk1", "chunk2", "chunk3"}
	for i, r := range results {
		if r.ChunkID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], r.ChunkID)
		}
	}
	if math.Abs(results[0].Score-1) > 1e-6 {
		t.Errorf("expected similarity 1 for identical direction, got %g", results[0].Score)
	}
	if math.Abs(results[2].Score) > 1e-6 {
		t.Errorf("expected similarity 0 for orthogonal vector, got %g", results[2].Score)
	}
}

func TestVectorSearchThreshold(t *testing.T) {
	st := newTestStore(t)
	vec := NewVector(st)

	addEmbeddedChunk(t, st, "chunk1", 0, "m", []float32{1, 0})
	addEmbeddedChunk(t, st, "chunk2", 1, "m", []float32{0.9, 0.1})
	addEmbeddedChunk(t, st, "chunk3", 2, "m", []float32{0, 1})

	results, err := vec.SearchVector(context.Background(), []float32{1, 0}, domain.KindChunkText, "m", 0.5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results above 0.5, got %d", len(results))
	}
	for _, r := range results {
		if r.ChunkID == "chunk3" {
			t.Error("chunk3 is below the threshold and must be excluded")
		}
	}
}

func TestVectorSearchThresholdOneKeepsDuplicates(t *testing.T) {
	st := newTestStore(t)
	vec := NewVector(st)

	// Same direction, different magnitude: cosine similarity is exactly 1.
	addEmbeddedChunk(t, st, "chunk1", 0, "m", []float32{1, 2, 3})
	addEmbeddedChunk(t, st, "chunk2", 1, "m", []float32{2, 4, 6})
	addEmbeddedChunk(t, st, "chunk3", 2, "m", []float32{3, 2, 1})

	results, err := vec.SearchVector(context.Background(), []float32{1, 2, 3}, domain.KindChunkText, "m", 1.0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected the 2 exact-duplicate directions at threshold 1.0, got %d", len(results))
	}
	if results[0].ChunkID != "chunk1" || results[1].ChunkID != "chunk2" {
		t.Errorf("expected chunk1, chunk2 (id tie-break), got %s, %s", results[0].ChunkID, results[1].ChunkID)
	}
}

func TestVectorSearchInvalidThreshold(t *testing.T) {
	st := newTestStore(t)
	vec := NewVector(st)

	for _, threshold := range []float64{-1.5, 1.5, 2} {
		_, err := vec.SearchVector(context.Background(), []float32{1}, domain.KindChunkText, "m", threshold, 10)
		if !errors.Is(err, domain.ErrInvalidThreshold) {
			t.Errorf("threshold %g: expected ErrInvalidThreshold, got %v", threshold, err)
		}
	}
}

func TestVectorSearchUnknownModel(t *testing.T) {
	st := newTestStore(t)
	vec := NewVector(st)

	addEmbeddedChunk(t, st, "chunk1", 0, "m", []float32{1, 0})

	results, err := vec.SearchVector(context.Background(), []float32{1, 0}, domain.KindChunkText, "other-model", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result for unknown model, got %d", len(results))
	}
}

func TestVectorSearchQueryDimensionMismatch(t *testing.T) {
	st := newTestStore(t)
	vec := NewVector(st)

	addEmbeddedChunk(t, st, "chunk1", 0, "m", []float32{1, 0, 0})

	_, err := vec.SearchVector(context.Background(), []float32{1, 0}, domain.KindChunkText, "m", 0, 10)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestVectorSearchInvalidKind(t *testing.T) {
	st := newTestStore(t)
	vec := NewVector(st)

	_, err := vec.SearchVector(context.Background(), []float32{1}, domain.EmbeddingKind("bogus"), "m", 0, 10)
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("expected %g, got %g", tc.want, got)
			}
		})
	}
}

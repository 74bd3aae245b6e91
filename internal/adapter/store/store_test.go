package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// The two backends must behave identically; every test runs against both.
func eachStore(t *testing.T, fn func(t *testing.T, st port.CorpusStore)) {
	t.Helper()

	backends := []struct {
		name string
		open func(t *testing.T) port.CorpusStore
	}{
		{
			name: "bolt",
			open: func(t *testing.T) port.CorpusStore {
				st, err := NewBoltStore(filepath.Join(t.TempDir(), "corpus.db"))
				require.NoError(t, err)
				return st
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) port.CorpusStore {
				st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "corpus.db"))
				require.NoError(t, err)
				return st
			},
		},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			defer st.Close()
			fn(t, st)
		})
	}
}

func testResource(id, url string) domain.Resource {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Resource{
		ID:        id,
		SourceURL: url,
		Title:     "Title of " + id,
		Category:  "general",
		FileType:  "pdf",
		Language:  "en",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testChunk(id, resourceID string, order int, text string) domain.Chunk {
	return domain.Chunk{
		ID:         id,
		ResourceID: resourceID,
		Order:      order,
		TokenSize:  len(text) / 4,
		Text:       text,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestResourceURLDedup(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/a")))

		err := st.CreateResource(ctx, testResource("r2", "https://example.com/a"))
		require.ErrorIs(t, err, domain.ErrDuplicateResource)

		got, err := st.GetResourceByURL(ctx, "https://example.com/a")
		require.NoError(t, err)
		assert.Equal(t, "r1", got.ID)

		_, err = st.GetResourceByURL(ctx, "https://example.com/missing")
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = st.GetResource(ctx, "r2")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestChunkOrderConflict(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/a")))
		require.NoError(t, st.InsertChunk(ctx, testChunk("c1", "r1", 0, "first"), nil, nil))

		err := st.InsertChunk(ctx, testChunk("c2", "r1", 0, "also first"), nil, nil)
		require.ErrorIs(t, err, domain.ErrOrderConflict)

		// The conflicting chunk must not be visible.
		_, err = st.GetChunk(ctx, "c2")
		require.ErrorIs(t, err, domain.ErrNotFound)

		// Same order under a different resource is fine.
		require.NoError(t, st.CreateResource(ctx, testResource("r2", "https://example.com/b")))
		require.NoError(t, st.InsertChunk(ctx, testChunk("c3", "r2", 0, "first of b"), nil, nil))
	})
}

func TestChunksOrderedByPosition(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/a")))
		for _, order := range []int{3, 0, 2, 1} {
			id := fmt.Sprintf("c%d", order)
			require.NoError(t, st.InsertChunk(ctx, testChunk(id, "r1", order, "text"), nil, nil))
		}

		chunks, err := st.GetChunksByResource(ctx, "r1", 0)
		require.NoError(t, err)
		require.Len(t, chunks, 4)
		for i, c := range chunks {
			assert.Equal(t, i, c.Order)
		}

		limited, err := st.GetChunksByResource(ctx, "r1", 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, 0, limited[0].Order)
		assert.Equal(t, 1, limited[1].Order)
	})
}

func TestInsertChunkForMissingResource(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		err := st.InsertChunk(context.Background(), testChunk("c1", "ghost", 0, "text"), nil, nil)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestInsertChunkAtomicOnDimensionMismatch(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/a")))

		// Register model m at 3 dims.
		good := domain.ChunkEmbedding{Kind: domain.KindChunkText, Model: "m", Dim: 3, Vector: []float32{1, 0, 0}}
		require.NoError(t, st.InsertChunk(ctx, testChunk("c1", "r1", 0, "ok"), nil, []domain.ChunkEmbedding{good}))

		// A 2-dim vector for the same model must fail and roll everything back.
		bad := domain.ChunkEmbedding{Kind: domain.KindChunkText, Model: "m", Dim: 2, Vector: []float32{1, 0}}
		chunk := testChunk("c2", "r1", 1, "bad vector")
		postings := map[domain.Field]map[string]int{domain.FieldText: {"bad": 1}}
		err := st.InsertChunk(ctx, chunk, postings, []domain.ChunkEmbedding{bad})
		require.ErrorIs(t, err, domain.ErrDimensionMismatch)

		_, err = st.GetChunk(ctx, "c2")
		require.ErrorIs(t, err, domain.ErrNotFound)

		ps, err := st.GetPostings(ctx, domain.FieldText, "bad")
		require.NoError(t, err)
		assert.Empty(t, ps)

		embs, err := st.EmbeddingsByModel(ctx, domain.KindChunkText, "m")
		require.NoError(t, err)
		require.Len(t, embs, 1)
		assert.Equal(t, "c1", embs[0].ChunkID)

		// The failed insert must not consume the order slot.
		require.NoError(t, st.InsertChunk(ctx, testChunk("c3", "r1", 1, "retry"), nil, nil))
	})
}

func TestPutEmbeddingDimensionRules(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/a")))
		require.NoError(t, st.InsertChunk(ctx, testChunk("c1", "r1", 0, "text"), nil, nil))

		emb := domain.ChunkEmbedding{ChunkID: "c1", Kind: domain.KindChunkText, Model: "m", Dim: 3, Vector: []float32{1, 2, 3}}
		require.NoError(t, st.PutEmbedding(ctx, emb))

		wrong := domain.ChunkEmbedding{ChunkID: "c1", Kind: domain.KindChunkText, Model: "m", Dim: 4, Vector: []float32{1, 2, 3, 4}}
		require.ErrorIs(t, st.PutEmbedding(ctx, wrong), domain.ErrDimensionMismatch)

		// Replacing with a same-dim vector is an upsert, not a conflict.
		replaced := domain.ChunkEmbedding{ChunkID: "c1", Kind: domain.KindChunkText, Model: "m", Dim: 3, Vector: []float32{4, 5, 6}}
		require.NoError(t, st.PutEmbedding(ctx, replaced))

		embs, err := st.EmbeddingsByModel(ctx, domain.KindChunkText, "m")
		require.NoError(t, err)
		require.Len(t, embs, 1)
		assert.Equal(t, []float32{4, 5, 6}, embs[0].Vector)

		// Kinds are independent namespaces for the same chunk and model.
		desc := domain.ChunkEmbedding{ChunkID: "c1", Kind: domain.KindDescription, Model: "m", Dim: 3, Vector: []float32{7, 8, 9}}
		require.NoError(t, st.PutEmbedding(ctx, desc))

		embs, err = st.EmbeddingsByModel(ctx, domain.KindDescription, "m")
		require.NoError(t, err)
		require.Len(t, embs, 1)
	})
}

func TestEmbeddingsByModelUnknownModel(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		embs, err := st.EmbeddingsByModel(context.Background(), domain.KindChunkText, "never-registered")
		require.NoError(t, err)
		assert.Empty(t, embs)
	})
}

func TestDeleteResourceCascades(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/a")))

		chunk := testChunk("c1", "r1", 0, "hybrid retrieval basics")
		chunk.TextTokens = []string{"hybrid", "retriev", "basic"}
		postings := map[domain.Field]map[string]int{
			domain.FieldText: {"hybrid": 1, "retriev": 1, "basic": 1},
		}
		emb := domain.ChunkEmbedding{Kind: domain.KindChunkText, Model: "m", Dim: 2, Vector: []float32{1, 0}}
		require.NoError(t, st.InsertChunk(ctx, chunk, postings, []domain.ChunkEmbedding{emb}))

		art := domain.ParsedArtifact{ID: "a1", ResourceID: "r1", ParseSetting: 1, CreatedAt: time.Now().UTC()}
		require.NoError(t, st.CreateArtifact(ctx, art))

		require.NoError(t, st.DeleteResource(ctx, "r1"))

		_, err := st.GetResource(ctx, "r1")
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = st.GetChunk(ctx, "c1")
		require.ErrorIs(t, err, domain.ErrNotFound)

		ps, err := st.GetPostings(ctx, domain.FieldText, "hybrid")
		require.NoError(t, err)
		assert.Empty(t, ps)

		embs, err := st.EmbeddingsByModel(ctx, domain.KindChunkText, "m")
		require.NoError(t, err)
		assert.Empty(t, embs)

		// The URL is free again after deletion.
		require.NoError(t, st.CreateResource(ctx, testResource("r2", "https://example.com/a")))

		// So is the artifact's (resource, parse setting) slot.
		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/b")))
		fresh := domain.ParsedArtifact{ID: "a2", ResourceID: "r1", ParseSetting: 1, CreatedAt: time.Now().UTC()}
		require.NoError(t, st.CreateArtifact(ctx, fresh))
	})
}

func TestArtifactConflict(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		require.NoError(t, st.CreateResource(ctx, testResource("r1", "https://example.com/a")))

		art := domain.ParsedArtifact{ID: "a1", ResourceID: "r1", ParseSetting: 1, CreatedAt: time.Now().UTC()}
		require.NoError(t, st.CreateArtifact(ctx, art))

		dup := domain.ParsedArtifact{ID: "a2", ResourceID: "r1", ParseSetting: 1, CreatedAt: time.Now().UTC()}
		require.ErrorIs(t, st.CreateArtifact(ctx, dup), domain.ErrArtifactConflict)

		other := domain.ParsedArtifact{ID: "a3", ResourceID: "r1", ParseSetting: 2, CreatedAt: time.Now().UTC()}
		require.NoError(t, st.CreateArtifact(ctx, other))
	})
}

func TestStats(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		stats, err := st.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Resources)
		assert.Equal(t, 0, stats.Chunks)

		r1 := testResource("r1", "https://example.com/a")
		r1.Category = "books"
		r2 := testResource("r2", "https://example.com/b")
		r2.Category = "papers"
		require.NoError(t, st.CreateResource(ctx, r1))
		require.NoError(t, st.CreateResource(ctx, r2))
		require.NoError(t, st.InsertChunk(ctx, testChunk("c1", "r1", 0, "one"), nil, nil))
		require.NoError(t, st.InsertChunk(ctx, testChunk("c2", "r1", 1, "two"), nil, nil))

		stats, err = st.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Resources)
		assert.Equal(t, 2, stats.Chunks)
		assert.Equal(t, 1, stats.ByCategory["books"])
		assert.Equal(t, 1, stats.ByCategory["papers"])

		cs, err := st.CorpusStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, cs.TotalChunks)
	})
}

func TestListResourcesByCategory(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			r := testResource(fmt.Sprintf("b%d", i), fmt.Sprintf("https://example.com/b%d", i))
			r.Category = "books"
			require.NoError(t, st.CreateResource(ctx, r))
		}
		p := testResource("p0", "https://example.com/p0")
		p.Category = "papers"
		require.NoError(t, st.CreateResource(ctx, p))

		books, err := st.ListResourcesByCategory(ctx, "books", 0)
		require.NoError(t, err)
		assert.Len(t, books, 3)

		limited, err := st.ListResourcesByCategory(ctx, "books", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := st.ListResourcesByCategory(ctx, "missing", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestContextCancellation(t *testing.T) {
	eachStore(t, func(t *testing.T, st port.CorpusStore) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		err := st.CreateResource(ctx, testResource("r1", "https://example.com/a"))
		require.ErrorIs(t, err, domain.ErrTimeout)
	})
}

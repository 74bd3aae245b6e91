package port

import (
	"context"

	"ragstore/internal/domain"
)

// CorpusStore is durable entity storage for resources, artifacts, images,
// chunks, postings and embeddings. Implementations must enforce the source
// URL and (resource, order) uniqueness constraints in the storage layer
// itself; concurrent writers rely on them for correctness.
type CorpusStore interface {
	// CreateResource stores a new resource. Fails with
	// domain.ErrDuplicateResource when the source URL already exists.
	CreateResource(ctx context.Context, res domain.Resource) error

	GetResource(ctx context.Context, id string) (domain.Resource, error)

	// GetResourceByURL looks a resource up by its deduplication key.
	// Returns domain.ErrNotFound on a miss.
	GetResourceByURL(ctx context.Context, url string) (domain.Resource, error)

	UpdateResource(ctx context.Context, res domain.Resource) error

	// DeleteResource removes a resource and cascades to its chunks,
	// postings and embeddings.
	DeleteResource(ctx context.Context, id string) error

	ListResourcesByCategory(ctx context.Context, category string, limit int) ([]domain.Resource, error)

	// CreateArtifact fails with domain.ErrArtifactConflict when the
	// (resource, parse setting) pair already exists.
	CreateArtifact(ctx context.Context, art domain.ParsedArtifact) error

	CreateImage(ctx context.Context, img domain.Image) error

	// InsertChunk atomically stores a chunk together with its lexical
	// postings and any supplied embeddings. Either everything becomes
	// visible or nothing does. Fails with domain.ErrOrderConflict when
	// the (resource, order) pair is taken and domain.ErrDimensionMismatch
	// when an embedding disagrees with its model's registered
	// dimensionality.
	InsertChunk(ctx context.Context, chunk domain.Chunk, postings map[domain.Field]map[string]int, embeddings []domain.ChunkEmbedding) error

	GetChunk(ctx context.Context, id string) (domain.Chunk, error)

	// GetChunksByResource returns up to limit chunks sorted ascending by
	// order. limit <= 0 means no limit.
	GetChunksByResource(ctx context.Context, resourceID string, limit int) ([]domain.Chunk, error)

	// PutEmbedding attaches or replaces an embedding after chunk
	// creation. Same dimensionality rules as InsertChunk.
	PutEmbedding(ctx context.Context, emb domain.ChunkEmbedding) error

	// EmbeddingsByModel returns every stored embedding for the kind and
	// model. A model with no embeddings yields an empty slice, not an
	// error.
	EmbeddingsByModel(ctx context.Context, kind domain.EmbeddingKind, model string) ([]domain.ChunkEmbedding, error)

	GetPostings(ctx context.Context, field domain.Field, term string) ([]domain.Posting, error)

	Stats(ctx context.Context) (domain.Stats, error)

	CorpusStats(ctx context.Context) (domain.CorpusStats, error)

	Close() error
}

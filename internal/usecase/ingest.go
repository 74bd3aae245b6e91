package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ragstore/internal/adapter/analyzer"
	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// Ingestor orchestrates writes so the corpus store, lexical index and
// vector index never diverge: a chunk row and its derived index entries
// commit in a single storage transaction.
type Ingestor struct {
	store     port.CorpusStore
	tokenizer *analyzer.Tokenizer
	now       func() time.Time
	newID     func() string
}

// NewIngestor creates an ingestion pipeline over the store.
func NewIngestor(store port.CorpusStore, tokenizer *analyzer.Tokenizer) *Ingestor {
	return &Ingestor{
		store:     store,
		tokenizer: tokenizer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ResourceInput names every field needed to create a resource; optional
// fields default to their zero values.
type ResourceInput struct {
	SourceURL      string
	LocalURL       string
	Title          string
	Authors        string
	Category       string
	FileType       string
	Language       string
	ContentSHA256  []byte
	NeedsParsing   bool
	CrawlCompleted bool
}

// EmbeddingInput is one embedding supplied alongside a chunk.
type EmbeddingInput struct {
	Kind   domain.EmbeddingKind
	Model  string
	Vector []float32
}

// ChunkInput names every field needed to create a chunk.
type ChunkInput struct {
	ResourceID  string
	ArtifactID  string
	ImageID     string
	Page        *int
	Order       int
	TokenSize   int
	Text        string
	Description string
	Embeddings  []EmbeddingInput
}

// IngestResource dedup-checks by source URL first. Re-ingesting a known
// URL returns the stored resource untouched and reports created=false; it
// never creates a duplicate.
func (u *Ingestor) IngestResource(ctx context.Context, in ResourceInput) (domain.Resource, bool, error) {
	if in.SourceURL == "" {
		return domain.Resource{}, false, fmt.Errorf("ingest resource: source URL is required")
	}

	existing, err := u.store.GetResourceByURL(ctx, in.SourceURL)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Resource{}, false, err
	}

	now := u.now().UTC()
	res := domain.Resource{
		ID:             u.newID(),
		SourceURL:      in.SourceURL,
		LocalURL:       in.LocalURL,
		Title:          in.Title,
		Authors:        in.Authors,
		Category:       in.Category,
		FileType:       in.FileType,
		Language:       in.Language,
		ContentSHA256:  in.ContentSHA256,
		NeedsParsing:   in.NeedsParsing,
		CrawlCompleted: in.CrawlCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := u.store.CreateResource(ctx, res); err != nil {
		// A concurrent writer may have won the URL; resolve to theirs.
		if errors.Is(err, domain.ErrDuplicateResource) {
			existing, getErr := u.store.GetResourceByURL(ctx, in.SourceURL)
			if getErr != nil {
				return domain.Resource{}, false, err
			}
			return existing, false, nil
		}
		return domain.Resource{}, false, err
	}
	return res, true, nil
}

// IngestChunk validates the chunk, derives its lexical postings, checks
// every supplied embedding and writes all of it atomically. There is no
// state in which the chunk is visible without its index entries or vice
// versa. An order collision surfaces as domain.ErrOrderConflict; the
// caller picks the next order.
func (u *Ingestor) IngestChunk(ctx context.Context, in ChunkInput) (domain.Chunk, error) {
	if in.ResourceID == "" {
		return domain.Chunk{}, fmt.Errorf("ingest chunk: resource id is required")
	}
	if in.Text == "" {
		return domain.Chunk{}, fmt.Errorf("ingest chunk: text is required")
	}
	if in.Order < 0 {
		return domain.Chunk{}, fmt.Errorf("ingest chunk: order %d must be >= 0", in.Order)
	}
	if in.Page != nil && *in.Page < 0 {
		return domain.Chunk{}, fmt.Errorf("ingest chunk: page %d must be >= 0", *in.Page)
	}

	embeddings := make([]domain.ChunkEmbedding, 0, len(in.Embeddings))
	for _, e := range in.Embeddings {
		if !e.Kind.Valid() {
			return domain.Chunk{}, fmt.Errorf("ingest chunk: unknown embedding kind %q", e.Kind)
		}
		if e.Model == "" {
			return domain.Chunk{}, fmt.Errorf("ingest chunk: embedding model is required")
		}
		if len(e.Vector) == 0 {
			return domain.Chunk{}, fmt.Errorf("%w: empty vector for model %s", domain.ErrDimensionMismatch, e.Model)
		}
		embeddings = append(embeddings, domain.ChunkEmbedding{
			Kind:   e.Kind,
			Model:  e.Model,
			Dim:    len(e.Vector),
			Vector: e.Vector,
		})
	}

	tokenSize := in.TokenSize
	if tokenSize <= 0 {
		tokenSize = u.tokenizer.CountTokens(in.Text)
	}

	chunk := domain.Chunk{
		ID:                u.newID(),
		ResourceID:        in.ResourceID,
		ArtifactID:        in.ArtifactID,
		ImageID:           in.ImageID,
		Page:              in.Page,
		Order:             in.Order,
		TokenSize:         tokenSize,
		Text:              in.Text,
		Description:       in.Description,
		TextTokens:        u.tokenizer.Tokenize(in.Text),
		DescriptionTokens: u.tokenizer.Tokenize(in.Description),
		CreatedAt:         u.now().UTC(),
	}

	postings := map[domain.Field]map[string]int{}
	if tf := u.tokenizer.TermFrequencies(in.Text); len(tf) > 0 {
		postings[domain.FieldText] = tf
	}
	if tf := u.tokenizer.TermFrequencies(in.Description); len(tf) > 0 {
		postings[domain.FieldDescription] = tf
	}

	if err := u.store.InsertChunk(ctx, chunk, postings, embeddings); err != nil {
		return domain.Chunk{}, err
	}
	return chunk, nil
}

// AttachEmbedding adds an embedding to an existing chunk. Any model may
// attach at any time; embeddings for retired models stay in place and are
// simply not selected by queries for other models.
func (u *Ingestor) AttachEmbedding(ctx context.Context, chunkID string, kind domain.EmbeddingKind, model string, vector []float32) error {
	if !kind.Valid() {
		return fmt.Errorf("attach embedding: unknown kind %q", kind)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector for model %s", domain.ErrDimensionMismatch, model)
	}
	return u.store.PutEmbedding(ctx, domain.ChunkEmbedding{
		ChunkID: chunkID,
		Kind:    kind,
		Model:   model,
		Dim:     len(vector),
		Vector:  vector,
	})
}

// IngestArtifact records one parsing pass of a resource.
func (u *Ingestor) IngestArtifact(ctx context.Context, resourceID string, parseSetting int, localParsedURL string) (domain.ParsedArtifact, error) {
	art := domain.ParsedArtifact{
		ID:             u.newID(),
		ResourceID:     resourceID,
		LocalParsedURL: localParsedURL,
		ParseSetting:   parseSetting,
		CreatedAt:      u.now().UTC(),
	}
	if err := u.store.CreateArtifact(ctx, art); err != nil {
		return domain.ParsedArtifact{}, err
	}
	return art, nil
}

// IngestImage records an extracted image, optionally linked to a resource.
func (u *Ingestor) IngestImage(ctx context.Context, img domain.Image) (domain.Image, error) {
	img.ID = u.newID()
	img.CreatedAt = u.now().UTC()
	if err := u.store.CreateImage(ctx, img); err != nil {
		return domain.Image{}, err
	}
	return img, nil
}

// UpdateResource applies an explicit update to a stored resource. This is
// the only path that changes resource fields; re-ingesting a URL never
// does.
func (u *Ingestor) UpdateResource(ctx context.Context, res domain.Resource) (domain.Resource, error) {
	res.UpdatedAt = u.now().UTC()
	if err := u.store.UpdateResource(ctx, res); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

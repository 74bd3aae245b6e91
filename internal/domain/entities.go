package domain

import "time"

// EmbeddingKind selects which text field of a chunk an embedding represents.
type EmbeddingKind string

const (
	KindChunkText   EmbeddingKind = "chunk-text"
	KindDescription EmbeddingKind = "description"
)

// Valid reports whether k is a known embedding kind.
func (k EmbeddingKind) Valid() bool {
	return k == KindChunkText || k == KindDescription
}

// Field names a lexical index field of a chunk.
type Field string

const (
	FieldText        Field = "text"
	FieldDescription Field = "description"
)

// Resource is one ingested document or page. SourceURL is the deduplication
// key: a URL is ingested at most once.
type Resource struct {
	ID             string
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
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ParsedArtifact records one parsing pass of a resource under a specific
// parse configuration. Unique per (ResourceID, ParseSetting).
type ParsedArtifact struct {
	ID             string
	ResourceID     string
	LocalParsedURL string
	ParseSetting   int
	CreatedAt      time.Time
}

// Image is an extracted image, optionally linked to a resource.
type Image struct {
	ID          string
	ResourceID  string
	RemoteURL   string
	LocalURL    string
	Description string
	Width       int
	Height      int
	MimeType    string
	CreatedAt   time.Time
}

// Chunk is an ordered text segment of a resource, the unit of retrieval.
// Order is zero-based and unique within the owning resource, which gives the
// resource's chunks a total order. TextTokens and DescriptionTokens are the
// derived lexical representations used for scoring and phrase matching.
type Chunk struct {
	ID                string
	ResourceID        string
	ArtifactID        string
	ImageID           string
	Page              *int
	Order             int
	TokenSize         int
	Text              string
	Description       string
	TextTokens        []string
	DescriptionTokens []string
	CreatedAt         time.Time
}

// Tokens returns the stored token sequence for the given field.
func (c Chunk) Tokens(f Field) []string {
	if f == FieldDescription {
		return c.DescriptionTokens
	}
	return c.TextTokens
}

// ChunkEmbedding is a named embedding vector for a chunk. Identity is the
// (ChunkID, Kind, Model) triple; multiple models may coexist per chunk and
// kind. Dim must equal len(Vector).
type ChunkEmbedding struct {
	ChunkID string
	Kind    EmbeddingKind
	Model   string
	Dim     int
	Vector  []float32
}

// Posting is one entry of a term's posting list.
type Posting struct {
	ChunkID string
	TF      int
}

// ScoredChunk is a (chunk id, score) pair produced by a single index.
type ScoredChunk struct {
	ChunkID string
	Score   float64
}

// SearchResult is a hydrated fused search hit.
type SearchResult struct {
	ChunkID       string  `json:"chunk_id"`
	ResourceID    string  `json:"resource_id"`
	Text          string  `json:"text"`
	Description   string  `json:"description,omitempty"`
	CombinedScore float64 `json:"combined_score"`
}

// Stats is the read-only corpus aggregate exposed to health checks.
type Stats struct {
	Resources  int            `json:"resources"`
	Chunks     int            `json:"chunks"`
	Images     int            `json:"images"`
	ByCategory map[string]int `json:"by_category,omitempty"`
}

// CorpusStats carries the lexical corpus totals BM25 scoring needs.
type CorpusStats struct {
	TotalChunks   int
	TotalTokenLen int
}

// AvgChunkLen returns the mean token length per chunk, or 0 for an empty
// corpus.
func (s CorpusStats) AvgChunkLen() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.TotalTokenLen) / float64(s.TotalChunks)
}

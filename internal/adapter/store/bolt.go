package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"ragstore/internal/domain"
	"ragstore/internal/port"
)

var (
	bucketResources    = []byte("resources")
	bucketResourceURLs = []byte("resource_urls")
	bucketArtifacts    = []byte("artifacts")
	bucketImages       = []byte("images")
	bucketImageURLs    = []byte("image_urls")
	bucketChunks       = []byte("chunks")
	bucketBlobs        = []byte("blobs")
	bucketOrders       = []byte("resource_chunks")
	bucketPostings     = []byte("postings")
	bucketEmbeddings   = []byte("embeddings")
	bucketChunkEmbeds  = []byte("chunk_embeddings")
	bucketModelDims    = []byte("model_dims")
	bucketStats        = []byte("stats")
	keyStats           = []byte("corpus_stats")
)

// BoltStore is a bbolt-backed corpus store. All uniqueness checks run
// inside bbolt's serialized update transaction, so concurrent writers see
// a consistent view of the constraint state.
type BoltStore struct {
	db *bbolt.DB
}

var _ port.CorpusStore = (*BoltStore)(nil)

// NewBoltStore opens (or creates) a corpus database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt db: %v", domain.ErrConnection, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			bucketResources, bucketResourceURLs, bucketArtifacts,
			bucketImages, bucketImageURLs, bucketChunks, bucketBlobs,
			bucketOrders, bucketPostings, bucketEmbeddings,
			bucketChunkEmbeds, bucketModelDims, bucketStats,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type resourceMeta struct {
	SourceURL      string `json:"source_url"`
	LocalURL       string `json:"local_url,omitempty"`
	Title          string `json:"title,omitempty"`
	Authors        string `json:"authors,omitempty"`
	Category       string `json:"category,omitempty"`
	FileType       string `json:"file_type,omitempty"`
	Language       string `json:"language,omitempty"`
	ContentSHA256  []byte `json:"sha256,omitempty"`
	NeedsParsing   bool   `json:"needs_parsing"`
	CrawlCompleted bool   `json:"crawl_completed"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

type artifactMeta struct {
	ID             string `json:"id"`
	LocalParsedURL string `json:"local_parsed_url,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

type imageMeta struct {
	ResourceID  string `json:"resource_id,omitempty"`
	RemoteURL   string `json:"remote_url,omitempty"`
	LocalURL    string `json:"local_url,omitempty"`
	Description string `json:"description,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

type chunkMeta struct {
	ResourceID  string   `json:"resource_id"`
	ArtifactID  string   `json:"artifact_id,omitempty"`
	ImageID     string   `json:"image_id,omitempty"`
	Page        *int     `json:"page,omitempty"`
	Order       int      `json:"order"`
	TokenSize   int      `json:"token_size,omitempty"`
	Description string   `json:"description,omitempty"`
	TextTokens  []string `json:"text_tokens,omitempty"`
	DescTokens  []string `json:"desc_tokens,omitempty"`
	CreatedAt   int64    `json:"created_at"`
}

type embedKey struct {
	Kind  domain.EmbeddingKind `json:"kind"`
	Model string               `json:"model"`
}

type statsMeta struct {
	Resources    int            `json:"resources"`
	Chunks       int            `json:"chunks"`
	Images       int            `json:"images"`
	TextTokenLen int            `json:"text_token_len"`
	ByCategory   map[string]int `json:"by_category,omitempty"`
}

func orderKey(resourceID string, order int) []byte {
	k := make([]byte, 0, len(resourceID)+5)
	k = append(k, resourceID...)
	k = append(k, 0x00)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(order))
	return append(k, b[:]...)
}

func postingKey(field domain.Field, term string) []byte {
	k := make([]byte, 0, len(field)+1+len(term))
	k = append(k, field...)
	k = append(k, 0x00)
	return append(k, term...)
}

func embeddingKey(kind domain.EmbeddingKind, model, chunkID string) []byte {
	k := make([]byte, 0, len(kind)+len(model)+len(chunkID)+2)
	k = append(k, kind...)
	k = append(k, 0x00)
	k = append(k, model...)
	k = append(k, 0x00)
	return append(k, chunkID...)
}

func artifactKeyOf(resourceID string, setting int) []byte {
	return orderKey(resourceID, setting)
}

// before wraps ctx cancellation and maps deadline expiry to ErrTimeout.
func before(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	default:
		return err
	}
}

func mapBoltErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) || errors.Is(err, bbolt.ErrTxClosed) {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return err
}

func loadStats(tx *bbolt.Tx) (statsMeta, error) {
	var m statsMeta
	data := tx.Bucket(bucketStats).Get(keyStats)
	if data == nil {
		return statsMeta{ByCategory: map[string]int{}}, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	if m.ByCategory == nil {
		m.ByCategory = map[string]int{}
	}
	return m, nil
}

func saveStats(tx *bbolt.Tx, m statsMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketStats).Put(keyStats, data)
}

func (s *BoltStore) CreateResource(ctx context.Context, res domain.Resource) error {
	if err := before(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		urls := tx.Bucket(bucketResourceURLs)
		if existing := urls.Get([]byte(res.SourceURL)); existing != nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateResource, res.SourceURL)
		}

		meta := resourceMeta{
			SourceURL:      res.SourceURL,
			LocalURL:       res.LocalURL,
			Title:          res.Title,
			Authors:        res.Authors,
			Category:       res.Category,
			FileType:       res.FileType,
			Language:       res.Language,
			ContentSHA256:  res.ContentSHA256,
			NeedsParsing:   res.NeedsParsing,
			CrawlCompleted: res.CrawlCompleted,
			CreatedAt:      res.CreatedAt.Unix(),
			UpdatedAt:      res.UpdatedAt.Unix(),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketResources).Put([]byte(res.ID), data); err != nil {
			return err
		}
		if err := urls.Put([]byte(res.SourceURL), []byte(res.ID)); err != nil {
			return err
		}

		stats, err := loadStats(tx)
		if err != nil {
			return err
		}
		stats.Resources++
		if res.Category != "" {
			stats.ByCategory[res.Category]++
		}
		return saveStats(tx, stats)
	})
	return mapBoltErr(err)
}

func decodeResource(id string, data []byte) (domain.Resource, error) {
	var meta resourceMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Resource{}, err
	}
	return domain.Resource{
		ID:             id,
		SourceURL:      meta.SourceURL,
		LocalURL:       meta.LocalURL,
		Title:          meta.Title,
		Authors:        meta.Authors,
		Category:       meta.Category,
		FileType:       meta.FileType,
		Language:       meta.Language,
		ContentSHA256:  meta.ContentSHA256,
		NeedsParsing:   meta.NeedsParsing,
		CrawlCompleted: meta.CrawlCompleted,
		CreatedAt:      time.Unix(meta.CreatedAt, 0).UTC(),
		UpdatedAt:      time.Unix(meta.UpdatedAt, 0).UTC(),
	}, nil
}

func (s *BoltStore) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	if err := before(ctx); err != nil {
		return domain.Resource{}, err
	}
	var res domain.Resource
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResources).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: resource %s", domain.ErrNotFound, id)
		}
		var err error
		res, err = decodeResource(id, data)
		return err
	})
	return res, mapBoltErr(err)
}

func (s *BoltStore) GetResourceByURL(ctx context.Context, url string) (domain.Resource, error) {
	if err := before(ctx); err != nil {
		return domain.Resource{}, err
	}
	var res domain.Resource
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketResourceURLs).Get([]byte(url))
		if id == nil {
			return fmt.Errorf("%w: resource url %s", domain.ErrNotFound, url)
		}
		data := tx.Bucket(bucketResources).Get(id)
		if data == nil {
			return fmt.Errorf("%w: resource %s", domain.ErrNotFound, id)
		}
		var err error
		res, err = decodeResource(string(id), data)
		return err
	})
	return res, mapBoltErr(err)
}

func (s *BoltStore) UpdateResource(ctx context.Context, res domain.Resource) error {
	if err := before(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketResources)
		data := b.Get([]byte(res.ID))
		if data == nil {
			return fmt.Errorf("%w: resource %s", domain.ErrNotFound, res.ID)
		}
		prev, err := decodeResource(res.ID, data)
		if err != nil {
			return err
		}

		// The URL is the identity key; changing it to a taken URL must fail.
		urls := tx.Bucket(bucketResourceURLs)
		if prev.SourceURL != res.SourceURL {
			if urls.Get([]byte(res.SourceURL)) != nil {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateResource, res.SourceURL)
			}
			if err := urls.Delete([]byte(prev.SourceURL)); err != nil {
				return err
			}
			if err := urls.Put([]byte(res.SourceURL), []byte(res.ID)); err != nil {
				return err
			}
		}

		if prev.Category != res.Category {
			stats, err := loadStats(tx)
			if err != nil {
				return err
			}
			if prev.Category != "" {
				stats.ByCategory[prev.Category]--
				if stats.ByCategory[prev.Category] <= 0 {
					delete(stats.ByCategory, prev.Category)
				}
			}
			if res.Category != "" {
				stats.ByCategory[res.Category]++
			}
			if err := saveStats(tx, stats); err != nil {
				return err
			}
		}

		meta := resourceMeta{
			SourceURL:      res.SourceURL,
			LocalURL:       res.LocalURL,
			Title:          res.Title,
			Authors:        res.Authors,
			Category:       res.Category,
			FileType:       res.FileType,
			Language:       res.Language,
			ContentSHA256:  res.ContentSHA256,
			NeedsParsing:   res.NeedsParsing,
			CrawlCompleted: res.CrawlCompleted,
			CreatedAt:      prev.CreatedAt.Unix(),
			UpdatedAt:      res.UpdatedAt.Unix(),
		}
		out, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(res.ID), out)
	})
	return mapBoltErr(err)
}

func (s *BoltStore) DeleteResource(ctx context.Context, id string) error {
	if err := before(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketResources)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: resource %s", domain.ErrNotFound, id)
		}
		res, err := decodeResource(id, data)
		if err != nil {
			return err
		}

		stats, err := loadStats(tx)
		if err != nil {
			return err
		}

		// Cascade through the order index to every owned chunk.
		orders := tx.Bucket(bucketOrders)
		prefix := append([]byte(id), 0x00)
		c := orders.Cursor()
		var orderKeys [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := deleteChunkTx(tx, string(v), &stats); err != nil {
				return err
			}
			orderKeys = append(orderKeys, append([]byte(nil), k...))
		}
		for _, k := range orderKeys {
			if err := orders.Delete(k); err != nil {
				return err
			}
		}

		// Artifacts share the resource-prefixed key layout.
		arts := tx.Bucket(bucketArtifacts)
		ac := arts.Cursor()
		var artKeys [][]byte
		for k, _ := ac.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = ac.Next() {
			artKeys = append(artKeys, append([]byte(nil), k...))
		}
		for _, k := range artKeys {
			if err := arts.Delete(k); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketResourceURLs).Delete([]byte(res.SourceURL)); err != nil {
			return err
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}

		stats.Resources--
		if res.Category != "" {
			stats.ByCategory[res.Category]--
			if stats.ByCategory[res.Category] <= 0 {
				delete(stats.ByCategory, res.Category)
			}
		}
		return saveStats(tx, stats)
	})
	return mapBoltErr(err)
}

// deleteChunkTx removes a chunk row plus its postings and embeddings.
func deleteChunkTx(tx *bbolt.Tx, chunkID string, stats *statsMeta) error {
	data := tx.Bucket(bucketChunks).Get([]byte(chunkID))
	if data == nil {
		return nil
	}
	var meta chunkMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}

	for field, tokens := range map[domain.Field][]string{
		domain.FieldText:        meta.TextTokens,
		domain.FieldDescription: meta.DescTokens,
	} {
		seen := make(map[string]struct{}, len(tokens))
		for _, term := range tokens {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			if err := removePostingTx(tx, field, term, chunkID); err != nil {
				return err
			}
		}
	}

	ceb := tx.Bucket(bucketChunkEmbeds)
	if keysData := ceb.Get([]byte(chunkID)); keysData != nil {
		var keys []embedKey
		if err := json.Unmarshal(keysData, &keys); err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.Bucket(bucketEmbeddings).Delete(embeddingKey(k.Kind, k.Model, chunkID)); err != nil {
				return err
			}
		}
		if err := ceb.Delete([]byte(chunkID)); err != nil {
			return err
		}
	}

	if err := tx.Bucket(bucketBlobs).Delete([]byte(chunkID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketChunks).Delete([]byte(chunkID)); err != nil {
		return err
	}

	stats.Chunks--
	stats.TextTokenLen -= len(meta.TextTokens)
	return nil
}

func removePostingTx(tx *bbolt.Tx, field domain.Field, term, chunkID string) error {
	b := tx.Bucket(bucketPostings)
	key := postingKey(field, term)
	data := b.Get(key)
	if data == nil {
		return nil
	}
	var postings []domain.Posting
	if err := json.Unmarshal(data, &postings); err != nil {
		return err
	}
	filtered := postings[:0]
	for _, p := range postings {
		if p.ChunkID != chunkID {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return b.Delete(key)
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return b.Put(key, out)
}

func (s *BoltStore) ListResourcesByCategory(ctx context.Context, category string, limit int) ([]domain.Resource, error) {
	if err := before(ctx); err != nil {
		return nil, err
	}
	var out []domain.Resource
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(k, v []byte) error {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			res, err := decodeResource(string(k), v)
			if err != nil {
				return err
			}
			if res.Category == category {
				out = append(out, res)
			}
			return nil
		})
	})
	if err != nil {
		return nil, mapBoltErr(err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *BoltStore) CreateArtifact(ctx context.Context, art domain.ParsedArtifact) error {
	if err := before(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketResources).Get([]byte(art.ResourceID)) == nil {
			return fmt.Errorf("%w: resource %s", domain.ErrNotFound, art.ResourceID)
		}
		b := tx.Bucket(bucketArtifacts)
		key := artifactKeyOf(art.ResourceID, art.ParseSetting)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: resource %s setting %d", domain.ErrArtifactConflict, art.ResourceID, art.ParseSetting)
		}
		data, err := json.Marshal(artifactMeta{
			ID:             art.ID,
			LocalParsedURL: art.LocalParsedURL,
			CreatedAt:      art.CreatedAt.Unix(),
		})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return mapBoltErr(err)
}

func (s *BoltStore) CreateImage(ctx context.Context, img domain.Image) error {
	if err := before(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		urls := tx.Bucket(bucketImageURLs)
		if img.RemoteURL != "" && urls.Get([]byte(img.RemoteURL)) != nil {
			return fmt.Errorf("%w: image url %s", domain.ErrDuplicateResource, img.RemoteURL)
		}
		data, err := json.Marshal(imageMeta{
			ResourceID:  img.ResourceID,
			RemoteURL:   img.RemoteURL,
			LocalURL:    img.LocalURL,
			Description: img.Description,
			Width:       img.Width,
			Height:      img.Height,
			MimeType:    img.MimeType,
			CreatedAt:   img.CreatedAt.Unix(),
		})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketImages).Put([]byte(img.ID), data); err != nil {
			return err
		}
		if img.RemoteURL != "" {
			if err := urls.Put([]byte(img.RemoteURL), []byte(img.ID)); err != nil {
				return err
			}
		}
		stats, err := loadStats(tx)
		if err != nil {
			return err
		}
		stats.Images++
		return saveStats(tx, stats)
	})
	return mapBoltErr(err)
}

// checkDimTx registers the model's dimensionality on first sight and
// rejects later vectors that disagree.
func checkDimTx(tx *bbolt.Tx, emb domain.ChunkEmbedding) error {
	if emb.Dim != len(emb.Vector) {
		return fmt.Errorf("%w: declared %d, vector has %d", domain.ErrDimensionMismatch, emb.Dim, len(emb.Vector))
	}
	dims := tx.Bucket(bucketModelDims)
	cur := dims.Get([]byte(emb.Model))
	if cur == nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(emb.Dim))
		return dims.Put([]byte(emb.Model), b[:])
	}
	if int(binary.BigEndian.Uint32(cur)) != emb.Dim {
		return fmt.Errorf("%w: model %s registered dim %d, got %d",
			domain.ErrDimensionMismatch, emb.Model, binary.BigEndian.Uint32(cur), emb.Dim)
	}
	return nil
}

func putEmbeddingTx(tx *bbolt.Tx, emb domain.ChunkEmbedding) error {
	if err := checkDimTx(tx, emb); err != nil {
		return err
	}
	if err := tx.Bucket(bucketEmbeddings).Put(embeddingKey(emb.Kind, emb.Model, emb.ChunkID), encodeVector(emb.Vector)); err != nil {
		return err
	}

	ceb := tx.Bucket(bucketChunkEmbeds)
	var keys []embedKey
	if data := ceb.Get([]byte(emb.ChunkID)); data != nil {
		if err := json.Unmarshal(data, &keys); err != nil {
			return err
		}
	}
	found := false
	for _, k := range keys {
		if k.Kind == emb.Kind && k.Model == emb.Model {
			found = true
			break
		}
	}
	if !found {
		keys = append(keys, embedKey{Kind: emb.Kind, Model: emb.Model})
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return ceb.Put([]byte(emb.ChunkID), data)
}

func (s *BoltStore) InsertChunk(ctx context.Context, chunk domain.Chunk, postings map[domain.Field]map[string]int, embeddings []domain.ChunkEmbedding) error {
	if err := before(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketResources).Get([]byte(chunk.ResourceID)) == nil {
			return fmt.Errorf("%w: resource %s", domain.ErrNotFound, chunk.ResourceID)
		}

		orders := tx.Bucket(bucketOrders)
		okey := orderKey(chunk.ResourceID, chunk.Order)
		if orders.Get(okey) != nil {
			return fmt.Errorf("%w: resource %s order %d", domain.ErrOrderConflict, chunk.ResourceID, chunk.Order)
		}

		meta := chunkMeta{
			ResourceID:  chunk.ResourceID,
			ArtifactID:  chunk.ArtifactID,
			ImageID:     chunk.ImageID,
			Page:        chunk.Page,
			Order:       chunk.Order,
			TokenSize:   chunk.TokenSize,
			Description: chunk.Description,
			TextTokens:  chunk.TextTokens,
			DescTokens:  chunk.DescriptionTokens,
			CreatedAt:   chunk.CreatedAt.Unix(),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketChunks).Put([]byte(chunk.ID), data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBlobs).Put([]byte(chunk.ID), []byte(chunk.Text)); err != nil {
			return err
		}
		if err := orders.Put(okey, []byte(chunk.ID)); err != nil {
			return err
		}

		pb := tx.Bucket(bucketPostings)
		for field, tf := range postings {
			for term, count := range tf {
				key := postingKey(field, term)
				var list []domain.Posting
				if existing := pb.Get(key); existing != nil {
					if err := json.Unmarshal(existing, &list); err != nil {
						return err
					}
				}
				list = append(list, domain.Posting{ChunkID: chunk.ID, TF: count})
				out, err := json.Marshal(list)
				if err != nil {
					return err
				}
				if err := pb.Put(key, out); err != nil {
					return err
				}
			}
		}

		for _, emb := range embeddings {
			emb.ChunkID = chunk.ID
			if err := putEmbeddingTx(tx, emb); err != nil {
				return err
			}
		}

		stats, err := loadStats(tx)
		if err != nil {
			return err
		}
		stats.Chunks++
		stats.TextTokenLen += len(chunk.TextTokens)
		return saveStats(tx, stats)
	})
	return mapBoltErr(err)
}

func decodeChunk(tx *bbolt.Tx, id string) (domain.Chunk, error) {
	data := tx.Bucket(bucketChunks).Get([]byte(id))
	if data == nil {
		return domain.Chunk{}, fmt.Errorf("%w: chunk %s", domain.ErrNotFound, id)
	}
	var meta chunkMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Chunk{}, err
	}
	text := tx.Bucket(bucketBlobs).Get([]byte(id))
	return domain.Chunk{
		ID:                id,
		ResourceID:        meta.ResourceID,
		ArtifactID:        meta.ArtifactID,
		ImageID:           meta.ImageID,
		Page:              meta.Page,
		Order:             meta.Order,
		TokenSize:         meta.TokenSize,
		Text:              string(text),
		Description:       meta.Description,
		TextTokens:        meta.TextTokens,
		DescriptionTokens: meta.DescTokens,
		CreatedAt:         time.Unix(meta.CreatedAt, 0).UTC(),
	}, nil
}

func (s *BoltStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	if err := before(ctx); err != nil {
		return domain.Chunk{}, err
	}
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		chunk, err = decodeChunk(tx, id)
		return err
	})
	return chunk, mapBoltErr(err)
}

func (s *BoltStore) GetChunksByResource(ctx context.Context, resourceID string, limit int) ([]domain.Chunk, error) {
	if err := before(ctx); err != nil {
		return nil, err
	}
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		// The order index key sorts by (resource, order), so a prefix
		// cursor scan yields chunks in ascending order.
		prefix := append([]byte(resourceID), 0x00)
		c := tx.Bucket(bucketOrders).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if limit > 0 && len(chunks) >= limit {
				break
			}
			chunk, err := decodeChunk(tx, string(v))
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, mapBoltErr(err)
}

func (s *BoltStore) PutEmbedding(ctx context.Context, emb domain.ChunkEmbedding) error {
	if err := before(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketChunks).Get([]byte(emb.ChunkID)) == nil {
			return fmt.Errorf("%w: chunk %s", domain.ErrNotFound, emb.ChunkID)
		}
		return putEmbeddingTx(tx, emb)
	})
	return mapBoltErr(err)
}

func (s *BoltStore) EmbeddingsByModel(ctx context.Context, kind domain.EmbeddingKind, model string) ([]domain.ChunkEmbedding, error) {
	if err := before(ctx); err != nil {
		return nil, err
	}
	var out []domain.ChunkEmbedding
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := embeddingKey(kind, model, "")
		c := tx.Bucket(bucketEmbeddings).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			vec, err := decodeVector(v)
			if err != nil {
				return err
			}
			out = append(out, domain.ChunkEmbedding{
				ChunkID: string(k[len(prefix):]),
				Kind:    kind,
				Model:   model,
				Dim:     len(vec),
				Vector:  vec,
			})
		}
		return nil
	})
	return out, mapBoltErr(err)
}

func (s *BoltStore) GetPostings(ctx context.Context, field domain.Field, term string) ([]domain.Posting, error) {
	if err := before(ctx); err != nil {
		return nil, err
	}
	var postings []domain.Posting
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPostings).Get(postingKey(field, term))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &postings)
	})
	return postings, mapBoltErr(err)
}

func (s *BoltStore) Stats(ctx context.Context) (domain.Stats, error) {
	if err := before(ctx); err != nil {
		return domain.Stats{}, err
	}
	var out domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		m, err := loadStats(tx)
		if err != nil {
			return err
		}
		byCat := make(map[string]int, len(m.ByCategory))
		for k, v := range m.ByCategory {
			byCat[k] = v
		}
		out = domain.Stats{
			Resources:  m.Resources,
			Chunks:     m.Chunks,
			Images:     m.Images,
			ByCategory: byCat,
		}
		return nil
	})
	return out, mapBoltErr(err)
}

func (s *BoltStore) CorpusStats(ctx context.Context) (domain.CorpusStats, error) {
	if err := before(ctx); err != nil {
		return domain.CorpusStats{}, err
	}
	var out domain.CorpusStats
	err := s.db.View(func(tx *bbolt.Tx) error {
		m, err := loadStats(tx)
		if err != nil {
			return err
		}
		out = domain.CorpusStats{TotalChunks: m.Chunks, TotalTokenLen: m.TextTokenLen}
		return nil
	})
	return out, mapBoltErr(err)
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"ragstore/internal/adapter/store/migrations"
	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// SQLiteStore is a SQLite-backed corpus store. Uniqueness and range
// invariants live in the schema itself (UNIQUE and CHECK constraints), the
// same layout the system uses on Postgres.
type SQLiteStore struct {
	db *sql.DB
}

var _ port.CorpusStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the corpus database at path and runs
// pending migrations. WAL mode keeps readers from blocking on writers.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", domain.ErrConnection, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies every pending *.up.sql migration in version order.
func (s *SQLiteStore) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// mapSQLErr translates driver failures into the domain taxonomy. Constraint
// names come out of the driver as message text, so matching is by name.
func mapSQLErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "resources.source_url"):
		return fmt.Errorf("%w: %v", domain.ErrDuplicateResource, err)
	case strings.Contains(msg, "images.remote_url"):
		return fmt.Errorf("%w: %v", domain.ErrDuplicateResource, err)
	case strings.Contains(msg, "chunks.resource_id, chunks.chunk_order"):
		return fmt.Errorf("%w: %v", domain.ErrOrderConflict, err)
	case strings.Contains(msg, "parsed_artifacts.resource_id, parsed_artifacts.parse_setting"):
		return fmt.Errorf("%w: %v", domain.ErrArtifactConflict, err)
	case strings.Contains(msg, "database is closed"), strings.Contains(msg, "unable to open database"):
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return err
}

func marshalTokens(tokens []string) (string, error) {
	if len(tokens) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalTokens(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var tokens []string
	if err := json.Unmarshal([]byte(data), &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *SQLiteStore) CreateResource(ctx context.Context, res domain.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, source_url, local_url, title, authors, category,
			file_type, language, content_sha256, needs_parsing, crawl_completed,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, res.SourceURL, res.LocalURL, res.Title, res.Authors, res.Category,
		res.FileType, res.Language, res.ContentSHA256, res.NeedsParsing, res.CrawlCompleted,
		res.CreatedAt.UTC(), res.UpdatedAt.UTC())
	return mapSQLErr(err)
}

const resourceColumns = `id, source_url, local_url, title, authors, category,
	file_type, language, content_sha256, needs_parsing, crawl_completed,
	created_at, updated_at`

func scanResource(row interface{ Scan(dest ...any) error }) (domain.Resource, error) {
	var res domain.Resource
	var localURL, title, authors, category, fileType, language sql.NullString
	err := row.Scan(&res.ID, &res.SourceURL, &localURL, &title, &authors, &category,
		&fileType, &language, &res.ContentSHA256, &res.NeedsParsing, &res.CrawlCompleted,
		&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return domain.Resource{}, err
	}
	res.LocalURL = localURL.String
	res.Title = title.String
	res.Authors = authors.String
	res.Category = category.String
	res.FileType = fileType.String
	res.Language = language.String
	return res, nil
}

func (s *SQLiteStore) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+resourceColumns+" FROM resources WHERE id = ?", id)
	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Resource{}, fmt.Errorf("%w: resource %s", domain.ErrNotFound, id)
	}
	return res, mapSQLErr(err)
}

func (s *SQLiteStore) GetResourceByURL(ctx context.Context, url string) (domain.Resource, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+resourceColumns+" FROM resources WHERE source_url = ?", url)
	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Resource{}, fmt.Errorf("%w: resource url %s", domain.ErrNotFound, url)
	}
	return res, mapSQLErr(err)
}

func (s *SQLiteStore) UpdateResource(ctx context.Context, res domain.Resource) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources SET source_url = ?, local_url = ?, title = ?, authors = ?,
			category = ?, file_type = ?, language = ?, content_sha256 = ?,
			needs_parsing = ?, crawl_completed = ?, updated_at = ?
		WHERE id = ?
	`, res.SourceURL, res.LocalURL, res.Title, res.Authors, res.Category,
		res.FileType, res.Language, res.ContentSHA256, res.NeedsParsing,
		res.CrawlCompleted, res.UpdatedAt.UTC(), res.ID)
	if err != nil {
		return mapSQLErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapSQLErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: resource %s", domain.ErrNotFound, res.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteResource(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM resources WHERE id = ?", id)
	if err != nil {
		return mapSQLErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapSQLErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: resource %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) ListResourcesByCategory(ctx context.Context, category string, limit int) ([]domain.Resource, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+resourceColumns+" FROM resources WHERE category = ? ORDER BY id LIMIT ?",
		category, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []domain.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, res)
	}
	return out, mapSQLErr(rows.Err())
}

func (s *SQLiteStore) CreateArtifact(ctx context.Context, art domain.ParsedArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parsed_artifacts (id, resource_id, local_parsed_url, parse_setting, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, art.ID, art.ResourceID, art.LocalParsedURL, art.ParseSetting, art.CreatedAt.UTC())
	return mapSQLErr(err)
}

func (s *SQLiteStore) CreateImage(ctx context.Context, img domain.Image) error {
	var resourceID, remoteURL any
	if img.ResourceID != "" {
		resourceID = img.ResourceID
	}
	if img.RemoteURL != "" {
		remoteURL = img.RemoteURL
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (id, resource_id, remote_url, local_url, description,
			width, height, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, img.ID, resourceID, remoteURL, img.LocalURL, img.Description,
		img.Width, img.Height, img.MimeType, img.CreatedAt.UTC())
	return mapSQLErr(err)
}

// ensureModelDim registers the model's dimensionality on first sight and
// rejects later vectors that disagree.
func ensureModelDim(ctx context.Context, tx *sql.Tx, emb domain.ChunkEmbedding) error {
	if emb.Dim != len(emb.Vector) {
		return fmt.Errorf("%w: declared %d, vector has %d", domain.ErrDimensionMismatch, emb.Dim, len(emb.Vector))
	}
	var dim int
	err := tx.QueryRowContext(ctx, "SELECT dim FROM embedding_models WHERE model = ?", emb.Model).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, "INSERT INTO embedding_models (model, dim) VALUES (?, ?)", emb.Model, emb.Dim)
		return err
	}
	if err != nil {
		return err
	}
	if dim != emb.Dim {
		return fmt.Errorf("%w: model %s registered dim %d, got %d", domain.ErrDimensionMismatch, emb.Model, dim, emb.Dim)
	}
	return nil
}

func insertEmbedding(ctx context.Context, tx *sql.Tx, emb domain.ChunkEmbedding) error {
	if err := ensureModelDim(ctx, tx, emb); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, kind, model, dim, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id, kind, model) DO UPDATE SET
			dim = excluded.dim,
			embedding = excluded.embedding
	`, emb.ChunkID, string(emb.Kind), emb.Model, emb.Dim, encodeVector(emb.Vector), time.Now().UTC())
	return err
}

func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk domain.Chunk, postings map[domain.Field]map[string]int, embeddings []domain.ChunkEmbedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLErr(err)
	}
	defer tx.Rollback()

	textTokens, err := marshalTokens(chunk.TextTokens)
	if err != nil {
		return err
	}
	descTokens, err := marshalTokens(chunk.DescriptionTokens)
	if err != nil {
		return err
	}

	var artifactID, imageID any
	if chunk.ArtifactID != "" {
		artifactID = chunk.ArtifactID
	}
	if chunk.ImageID != "" {
		imageID = chunk.ImageID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks (id, resource_id, artifact_id, image_id, page, chunk_order,
			token_size, text, description, text_tokens, desc_tokens, text_token_len, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, chunk.ID, chunk.ResourceID, artifactID, imageID, chunk.Page, chunk.Order,
		chunk.TokenSize, chunk.Text, chunk.Description, textTokens, descTokens,
		len(chunk.TextTokens), chunk.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("%w: resource %s", domain.ErrNotFound, chunk.ResourceID)
		}
		return mapSQLErr(err)
	}

	for field, tf := range postings {
		for term, count := range tf {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO postings (field, term, chunk_id, tf) VALUES (?, ?, ?, ?)",
				string(field), term, chunk.ID, count); err != nil {
				return mapSQLErr(err)
			}
		}
	}

	for _, emb := range embeddings {
		emb.ChunkID = chunk.ID
		if err := insertEmbedding(ctx, tx, emb); err != nil {
			return mapSQLErr(err)
		}
	}

	return mapSQLErr(tx.Commit())
}

const chunkColumns = `id, resource_id, artifact_id, image_id, page, chunk_order,
	token_size, text, description, text_tokens, desc_tokens, created_at`

func scanChunk(row interface{ Scan(dest ...any) error }) (domain.Chunk, error) {
	var chunk domain.Chunk
	var artifactID, imageID, description sql.NullString
	var page, tokenSize sql.NullInt64
	var textTokens, descTokens string
	err := row.Scan(&chunk.ID, &chunk.ResourceID, &artifactID, &imageID, &page,
		&chunk.Order, &tokenSize, &chunk.Text, &description, &textTokens, &descTokens,
		&chunk.CreatedAt)
	if err != nil {
		return domain.Chunk{}, err
	}
	chunk.ArtifactID = artifactID.String
	chunk.ImageID = imageID.String
	chunk.Description = description.String
	if page.Valid {
		p := int(page.Int64)
		chunk.Page = &p
	}
	chunk.TokenSize = int(tokenSize.Int64)
	if chunk.TextTokens, err = unmarshalTokens(textTokens); err != nil {
		return domain.Chunk{}, err
	}
	if chunk.DescriptionTokens, err = unmarshalTokens(descTokens); err != nil {
		return domain.Chunk{}, err
	}
	return chunk, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chunk{}, fmt.Errorf("%w: chunk %s", domain.ErrNotFound, id)
	}
	return chunk, mapSQLErr(err)
}

func (s *SQLiteStore) GetChunksByResource(ctx context.Context, resourceID string, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE resource_id = ? ORDER BY chunk_order ASC LIMIT ?",
		resourceID, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, chunk)
	}
	return out, mapSQLErr(rows.Err())
}

func (s *SQLiteStore) PutEmbedding(ctx context.Context, emb domain.ChunkEmbedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLErr(err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM chunks WHERE id = ?", emb.ChunkID).Scan(&exists); err != nil {
		return mapSQLErr(err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: chunk %s", domain.ErrNotFound, emb.ChunkID)
	}
	if err := insertEmbedding(ctx, tx, emb); err != nil {
		return mapSQLErr(err)
	}
	return mapSQLErr(tx.Commit())
}

func (s *SQLiteStore) EmbeddingsByModel(ctx context.Context, kind domain.EmbeddingKind, model string) ([]domain.ChunkEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, dim, embedding FROM chunk_embeddings
		WHERE kind = ? AND model = ?
		ORDER BY chunk_id ASC
	`, string(kind), model)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []domain.ChunkEmbedding
	for rows.Next() {
		emb := domain.ChunkEmbedding{Kind: kind, Model: model}
		var blob []byte
		if err := rows.Scan(&emb.ChunkID, &emb.Dim, &blob); err != nil {
			return nil, mapSQLErr(err)
		}
		if emb.Vector, err = decodeVector(blob); err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, mapSQLErr(rows.Err())
}

func (s *SQLiteStore) GetPostings(ctx context.Context, field domain.Field, term string) ([]domain.Posting, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_id, tf FROM postings WHERE field = ? AND term = ? ORDER BY chunk_id ASC",
		string(field), term)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []domain.Posting
	for rows.Next() {
		var p domain.Posting
		if err := rows.Scan(&p.ChunkID, &p.TF); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, p)
	}
	return out, mapSQLErr(rows.Err())
}

func (s *SQLiteStore) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM resources),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM images)
	`).Scan(&stats.Resources, &stats.Chunks, &stats.Images)
	if err != nil {
		return domain.Stats{}, mapSQLErr(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM resources
		WHERE category IS NOT NULL AND category != ''
		GROUP BY category
	`)
	if err != nil {
		return domain.Stats{}, mapSQLErr(err)
	}
	defer rows.Close()

	stats.ByCategory = make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return domain.Stats{}, mapSQLErr(err)
		}
		stats.ByCategory[category] = count
	}
	return stats, mapSQLErr(rows.Err())
}

func (s *SQLiteStore) CorpusStats(ctx context.Context) (domain.CorpusStats, error) {
	var cs domain.CorpusStats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(text_token_len), 0) FROM chunks",
	).Scan(&cs.TotalChunks, &cs.TotalTokenLen)
	return cs, mapSQLErr(err)
}

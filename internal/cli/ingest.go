package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragstore/internal/adapter/analyzer"
	"ragstore/internal/adapter/embedding"
	"ragstore/internal/adapter/fs"
	"ragstore/internal/domain"
	"ragstore/internal/logger"
	"ragstore/internal/port"
	"ragstore/internal/usecase"
)

var ingestCategory string

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest document bundles into the corpus",
	Long: `Ingest bundle files from the given directory into the corpus.

A bundle is a .jsonl file: the first line describes the resource, every
following line is one chunk in reading order. Re-ingesting a bundle
whose source URL is already known leaves the stored resource untouched.

Examples:
  ragstore ingest .                # Ingest bundles under the current directory
  ragstore ingest /data/corpus     # Ingest a specific directory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "category for ingested resources (default from config)")
}

// resourceLine is the first line of a bundle file.
type resourceLine struct {
	SourceURL string `json:"source_url"`
	LocalURL  string `json:"local_url"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Category  string `json:"category"`
	FileType  string `json:"file_type"`
	Language  string `json:"language"`
}

// chunkLine is one chunk of a bundle file.
type chunkLine struct {
	Order       *int            `json:"order"`
	Page        *int            `json:"page"`
	TokenSize   int             `json:"token_size"`
	Text        string          `json:"text"`
	Description string          `json:"description"`
	Embeddings  []embeddingLine `json:"embeddings"`
}

type embeddingLine struct {
	Kind   string    `json:"kind"`
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	st, dbPath, err := openStore(true)
	if err != nil {
		return err
	}
	defer st.Close()

	tokenizer := analyzer.NewTokenizer(cfg.Analyzer.Stemming)
	ingestor := usecase.NewIngestor(st, tokenizer)
	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)

	var embedder port.Embedder
	if cfg.Embedding.Enabled {
		embedder, err = newEmbedder()
		if err != nil {
			return err
		}
		logger.Info("embedding with %s (%d dims)", embedder.ModelName(), embedder.Dimension())
	}

	fmt.Printf("Scanning %s...\n", path)
	bundles, err := walker.Walk(path)
	if err != nil {
		return fmt.Errorf("failed to scan for bundles: %w", err)
	}
	if len(bundles) == 0 {
		fmt.Println("No bundle files found.")
		return nil
	}

	bar := progressbar.NewOptions(len(bundles),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)

	ctx := cmd.Context()
	var resourcesNew, resourcesKnown, chunksCreated int
	var warnings []string

	for _, bundle := range bundles {
		created, chunks, err := ingestBundle(ctx, ingestor, embedder, bundle.Path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", bundle.Path, err))
		} else if created {
			resourcesNew++
			chunksCreated += chunks
		} else {
			resourcesKnown++
		}
		bar.Add(1)
	}

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Resources added:   %d\n", resourcesNew)
	fmt.Printf("  Resources known:   %d (unchanged)\n", resourcesKnown)
	fmt.Printf("  Chunks created:    %d\n", chunksCreated)

	if len(warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nCorpus stored at: %s\n", dbPath)
	return nil
}

// ingestBundle parses one bundle file and writes its resource and chunks.
// A bundle whose resource already exists is skipped whole.
func ingestBundle(ctx context.Context, ingestor *usecase.Ingestor, embedder port.Embedder, path string) (bool, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	if !scanner.Scan() {
		return false, 0, fmt.Errorf("empty bundle")
	}
	var head resourceLine
	if err := json.Unmarshal(scanner.Bytes(), &head); err != nil {
		return false, 0, fmt.Errorf("bad resource line: %w", err)
	}
	if head.SourceURL == "" {
		head.SourceURL = "file://" + path
	}
	category := head.Category
	if ingestCategory != "" {
		category = ingestCategory
	}
	if category == "" {
		category = cfg.Ingest.Category
	}

	res, created, err := ingestor.IngestResource(ctx, usecase.ResourceInput{
		SourceURL: head.SourceURL,
		LocalURL:  head.LocalURL,
		Title:     head.Title,
		Authors:   head.Authors,
		Category:  category,
		FileType:  head.FileType,
		Language:  head.Language,
	})
	if err != nil {
		return false, 0, err
	}
	if !created {
		logger.Debug("resource %s already ingested, skipping %s", res.SourceURL, path)
		return false, 0, nil
	}

	var chunks int
	nextOrder := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cl chunkLine
		if err := json.Unmarshal([]byte(line), &cl); err != nil {
			return true, chunks, fmt.Errorf("bad chunk line %d: %w", chunks+1, err)
		}

		order := nextOrder
		if cl.Order != nil {
			order = *cl.Order
		}

		in := usecase.ChunkInput{
			ResourceID:  res.ID,
			Page:        cl.Page,
			Order:       order,
			TokenSize:   cl.TokenSize,
			Text:        cl.Text,
			Description: cl.Description,
		}
		for _, e := range cl.Embeddings {
			in.Embeddings = append(in.Embeddings, usecase.EmbeddingInput{
				Kind:   domain.EmbeddingKind(e.Kind),
				Model:  e.Model,
				Vector: e.Vector,
			})
		}
		if embedder != nil && !hasKind(cl.Embeddings, domain.KindChunkText) {
			vectors, err := embedder.Embed(ctx, []string{cl.Text})
			if err != nil {
				return true, chunks, fmt.Errorf("embed chunk %d: %w", order, err)
			}
			in.Embeddings = append(in.Embeddings, usecase.EmbeddingInput{
				Kind:   domain.KindChunkText,
				Model:  embedder.ModelName(),
				Vector: vectors[0],
			})
		}

		if _, err := ingestor.IngestChunk(ctx, in); err != nil {
			if errors.Is(err, domain.ErrOrderConflict) {
				return true, chunks, fmt.Errorf("chunk order %d already taken", order)
			}
			return true, chunks, err
		}
		chunks++
		nextOrder = order + 1
	}
	if err := scanner.Err(); err != nil {
		return true, chunks, err
	}
	return true, chunks, nil
}

func hasKind(lines []embeddingLine, kind domain.EmbeddingKind) bool {
	for _, l := range lines {
		if domain.EmbeddingKind(l.Kind) == kind {
			return true
		}
	}
	return false
}

// newEmbedder builds the configured embedding client.
func newEmbedder() (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAI(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model)
	case "ollama":
		return embedding.NewOllama(cfg.Embedding.Model, cfg.Embedding.BaseURL), nil
	case "deterministic":
		return embedding.NewDeterministic(cfg.Embedding.Dimension), nil
	default:
		return embedding.NewCompatible(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, cfg.Embedding.BaseURL)
	}
}

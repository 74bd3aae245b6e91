package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ragstore/internal/adapter/analyzer"
	"ragstore/internal/adapter/retriever"
	"ragstore/internal/domain"
	"ragstore/internal/logger"
	"ragstore/internal/usecase"
)

var (
	searchQuery        string
	searchTopK         int
	searchJSON         bool
	searchTextWeight   float64
	searchVectorWeight float64
	searchModel        string
	searchKind         string
	searchLexicalOnly  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the corpus",
	Long: `Search the corpus with BM25 keyword matching, optionally fused with
vector similarity when an embedding provider is configured.

Query terms are all required; "quoted phrases" must appear verbatim.

Examples:
  ragstore search -q "hybrid retrieval"
  ragstore search -q 'fusion "outer join"' --top-k 5 --json
  ragstore search -q "ranking" --text-weight 0.3 --vector-weight 0.7`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.Flags().Float64Var(&searchTextWeight, "text-weight", -1, "weight of the keyword score (default from config)")
	searchCmd.Flags().Float64Var(&searchVectorWeight, "vector-weight", -1, "weight of the similarity score (default from config)")
	searchCmd.Flags().StringVar(&searchModel, "model", "", "embedding model to query (default from config)")
	searchCmd.Flags().StringVar(&searchKind, "kind", string(domain.KindChunkText), "embedding kind: chunk-text or description")
	searchCmd.Flags().BoolVar(&searchLexicalOnly, "lexical-only", false, "skip vector search even when embeddings are configured")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	st, _, err := openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	tokenizer := analyzer.NewTokenizer(cfg.Analyzer.Stemming)
	lexical := retriever.NewLexical(st, tokenizer, cfg.Lexical.K1, cfg.Lexical.B)
	vector := retriever.NewVector(st)
	hybrid := retriever.NewHybrid(lexical, vector)
	svc := usecase.NewSearchService(st, hybrid)

	topK := cfg.Search.TopK
	if searchTopK > 0 {
		topK = searchTopK
	}
	textWeight := cfg.Search.TextWeight
	if searchTextWeight >= 0 {
		textWeight = searchTextWeight
	}
	vectorWeight := cfg.Search.VectorWeight
	if searchVectorWeight >= 0 {
		vectorWeight = searchVectorWeight
	}
	model := cfg.Embedding.Model
	if searchModel != "" {
		model = searchModel
	}
	kind := domain.EmbeddingKind(searchKind)
	if !kind.Valid() {
		return fmt.Errorf("unknown embedding kind %q", searchKind)
	}

	ctx := cmd.Context()

	var results []domain.SearchResult
	if searchLexicalOnly || !cfg.Embedding.Enabled {
		logger.Debug("lexical search: %q top-k=%d", searchQuery, topK)
		results, err = svc.SearchText(ctx, lexical, searchQuery, topK)
	} else {
		embedder, embErr := newEmbedder()
		if embErr != nil {
			return embErr
		}
		vectors, embErr := embedder.Embed(ctx, []string{searchQuery})
		if embErr != nil {
			return fmt.Errorf("failed to embed query: %w", embErr)
		}
		logger.Debug("hybrid search: %q model=%s tw=%.2f vw=%.2f top-k=%d",
			searchQuery, model, textWeight, vectorWeight, topK)
		results, err = svc.HybridSearch(ctx, usecase.HybridQuery{
			Text:         searchQuery,
			Vector:       vectors[0],
			Kind:         kind,
			Model:        model,
			TextWeight:   textWeight,
			VectorWeight: vectorWeight,
			Limit:        topK,
		})
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), searchQuery)
	for i, r := range results {
		fmt.Printf("--- [%d] chunk %s (resource %s, score: %.4f) ---\n", i+1, r.ChunkID, r.ResourceID, r.CombinedScore)
		text := r.Text
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}
	return nil
}

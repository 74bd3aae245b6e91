package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ragstore/config"
	"ragstore/internal/adapter/store"
	"ragstore/internal/logger"
	"ragstore/internal/port"
)

var (
	cfgFile    string
	cfg        *config.Config
	rootDir    string
	verboseLog bool
)

var rootCmd = &cobra.Command{
	Use:   "ragstore",
	Short: "Hybrid retrieval corpus - ingest documents, search by keyword and similarity",
	Long: `ragstore maintains a corpus of chunked documents with a BM25 lexical
index and per-model vector embeddings, and answers keyword, similarity
and fused hybrid queries over it.

Example usage:
  ragstore ingest ./corpus              # Ingest bundle files
  ragstore search -q "hybrid retrieval" # Keyword + vector search
  ragstore stats                        # Corpus statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger.SetVerbose(verboseLog || cfg.Logging.Verbose)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ragstore.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "working directory (default is current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "enable verbose logging")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// openStore opens the configured corpus store backend.
func openStore(create bool) (port.CorpusStore, string, error) {
	dbPath := cfg.DBPath(rootDir)
	if create {
		if err := config.EnsureDataDir(rootDir); err != nil {
			return nil, "", fmt.Errorf("failed to create data directory: %w", err)
		}
	} else if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, "", fmt.Errorf("no corpus found at %s. Run 'ragstore ingest' first", dbPath)
	}

	var (
		st  port.CorpusStore
		err error
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		st, err = store.NewSQLiteStore(dbPath)
	default:
		st, err = store.NewBoltStore(dbPath)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open corpus store: %w", err)
	}
	logger.Debug("opened %s store at %s", cfg.Storage.Driver, dbPath)
	return st, dbPath, nil
}

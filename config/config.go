package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ragstore tool.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Lexical   LexicalConfig   `yaml:"lexical"`
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects and locates the corpus store backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "bolt" or "sqlite"
	Path   string `yaml:"path"`   // database file; empty means <dir>/.ragstore/corpus.db
}

// AnalyzerConfig holds text analysis configuration.
type AnalyzerConfig struct {
	Stemming bool `yaml:"stemming"`
}

// LexicalConfig holds BM25 tuning parameters.
type LexicalConfig struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// SearchConfig holds default search parameters.
type SearchConfig struct {
	TopK         int     `yaml:"top_k"`
	TextWeight   float64 `yaml:"text_weight"`
	VectorWeight float64 `yaml:"vector_weight"`
	Threshold    float64 `yaml:"threshold"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider"` // "openai", "ollama", "deterministic"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// IngestConfig holds bundle discovery configuration.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
	Category string   `yaml:"category"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: "bolt",
		},
		Analyzer: AnalyzerConfig{
			Stemming: true,
		},
		Lexical: LexicalConfig{
			K1: 1.2,
			B:  0.75,
		},
		Search: SearchConfig{
			TopK:         10,
			TextWeight:   0.5,
			VectorWeight: 0.5,
			Threshold:    0.0,
		},
		Embedding: EmbeddingConfig{
			Enabled:   false,
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 1536,
			BatchSize: 100,
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.jsonl"},
			Excludes: []string{"**/.git/**", "**/node_modules/**"},
			Category: "general",
		},
		Logging: LoggingConfig{
			Verbose: false,
		},
	}
}

// Validate rejects settings the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Lexical.K1 < 0 {
		return fmt.Errorf("lexical k1 must be >= 0, got %g", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical b must be in [0, 1], got %g", c.Lexical.B)
	}
	if c.Search.Threshold < -1 || c.Search.Threshold > 1 {
		return fmt.Errorf("search threshold must be in [-1, 1], got %g", c.Search.Threshold)
	}
	return nil
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for
// ragstore.yaml, then .ragstore/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "ragstore.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".ragstore", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DBPath returns the corpus database path for a working directory,
// honoring an explicit storage path when set.
func (c *Config) DBPath(dir string) string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(dir, ".ragstore", "corpus.db")
}

// EnsureDataDir ensures the .ragstore directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".ragstore"), 0755)
}

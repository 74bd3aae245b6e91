package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Driver != "bolt" {
		t.Errorf("expected driver=bolt, got %s", cfg.Storage.Driver)
	}
	if cfg.Lexical.K1 != 1.2 {
		t.Errorf("expected K1=1.2, got %f", cfg.Lexical.K1)
	}
	if cfg.Lexical.B != 0.75 {
		t.Errorf("expected B=0.75, got %f", cfg.Lexical.B)
	}
	if cfg.Search.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Search.TopK)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ragstore.yaml")

	content := `
storage:
  driver: sqlite
analyzer:
  stemming: false
search:
  top_k: 25
  text_weight: 0.3
  vector_weight: 0.7
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected driver=sqlite, got %s", cfg.Storage.Driver)
	}
	if cfg.Analyzer.Stemming != false {
		t.Errorf("expected Stemming=false, got %v", cfg.Analyzer.Stemming)
	}
	if cfg.Search.TopK != 25 {
		t.Errorf("expected TopK=25, got %d", cfg.Search.TopK)
	}
	if cfg.Search.TextWeight != 0.3 {
		t.Errorf("expected TextWeight=0.3, got %f", cfg.Search.TextWeight)
	}
	// Unset sections keep their defaults.
	if cfg.Lexical.K1 != 1.2 {
		t.Errorf("expected default K1=1.2, got %f", cfg.Lexical.K1)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"unknown driver", "storage:\n  driver: mongodb\n"},
		{"negative k1", "lexical:\n  k1: -1\n"},
		{"b out of range", "lexical:\n  b: 1.5\n"},
		{"threshold out of range", "search:\n  threshold: 2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ragstore.yaml")

	content := `
ingest:
  category: textbooks
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ingest.Category != "textbooks" {
		t.Errorf("expected category=textbooks, got %s", cfg.Ingest.Category)
	}
}

func TestDBPath(t *testing.T) {
	cfg := DefaultConfig()
	path := cfg.DBPath("/home/user/project")
	expected := filepath.Join("/home/user/project", ".ragstore", "corpus.db")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}

	cfg.Storage.Path = "/data/custom.db"
	if got := cfg.DBPath("/home/user/project"); got != "/data/custom.db" {
		t.Errorf("explicit storage path must win, got %s", got)
	}
}

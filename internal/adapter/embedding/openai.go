package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"ragstore/internal/domain"
	"ragstore/internal/port"
)

// Client talks to any OpenAI-compatible /embeddings endpoint.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	http      *http.Client
}

var _ port.Embedder = (*Client)(nil)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAI reads the API key from the named environment variable and
// targets the OpenAI endpoint.
func NewOpenAI(apiKeyEnv, model string) (*Client, error) {
	return NewCompatible(apiKeyEnv, model, "https://api.openai.com/v1")
}

// NewOllama targets a local Ollama server, which speaks the same wire
// format without an API key.
func NewOllama(model, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return &Client{
		apiKey:    "ollama",
		model:     model,
		baseURL:   baseURL,
		dimension: modelDimension(model),
		http:      &http.Client{Timeout: 120 * time.Second},
	}
}

// NewCompatible builds a client for any endpoint implementing the OpenAI
// embeddings API.
func NewCompatible(apiKeyEnv, model, baseURL string) (*Client, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	return &Client{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: modelDimension(model),
		http:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func modelDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-ada-002", "text-embedding-3-small":
		return 1536
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	case "nomic-embed-text":
		return 768
	}
	return 1536
}

// Embed returns one vector per input text, in input order. Large inputs
// are split into provider-sized batches.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const maxBatch = 100
	var all [][]float32
	for i := 0; i < len(texts); i += maxBatch {
		end := i + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding request", domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

func (c *Client) Dimension() int { return c.dimension }

func (c *Client) ModelName() string { return c.model }

// Deterministic is an offline embedder for tests and dry runs: each text
// maps to a stable vector derived from its leading runes.
type Deterministic struct {
	dimension int
	model     string
}

var _ port.Embedder = (*Deterministic)(nil)

func NewDeterministic(dimension int) *Deterministic {
	return &Deterministic{dimension: dimension, model: "deterministic"}
}

func (d *Deterministic) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = make([]float32, d.dimension)
		for j, r := range text {
			if j >= d.dimension {
				break
			}
			vectors[i][j] = float32(r) / 1000.0
		}
	}
	return vectors, nil
}

func (d *Deterministic) Dimension() int { return d.dimension }

func (d *Deterministic) ModelName() string { return d.model }

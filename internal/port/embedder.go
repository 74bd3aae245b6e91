package port

import "context"

// Embedder generates vector embeddings for text. Embedding inference is an
// external collaborator; the core only consumes this interface.
type Embedder interface {
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// Package embeddings defines the Provider interface for text embedding
// backends used by the semantic index.
package embeddings

import "context"

// Provider turns text into dense vectors suitable for cosine-similarity
// search. Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of vectors produced by this
	// provider. The semantic index uses it to size the vector column.
	Dimensions() int

	// ModelID returns the identifier of the underlying embedding model.
	ModelID() string
}

// Package embeddings defines the embedding-provider contract and its OpenAI
// implementation. Providers must preserve input order and return vectors of
// exactly the advertised dimension; a dimension mismatch is a hard failure
// for the whole batch call, never silently truncated or padded.
package embeddings

import "context"

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

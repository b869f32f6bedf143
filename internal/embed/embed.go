// Package embed provides text embedding generation for topic clustering.
package embed

import "context"

// Embedder generates vector embeddings from text batches.
//
// When EmbedBatch returns nil error, the result slice must have the same
// length as the input texts slice, with result[i] corresponding to texts[i].
type Embedder interface {
	// Available returns true if the embedding service is accessible.
	Available() bool
	// EmbedBatch generates vector embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

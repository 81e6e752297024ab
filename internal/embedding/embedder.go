// Package embedding provides text embedding via an OpenAI-compatible endpoint, with caching.
package embedding

import "context"

// Embedder produces vector embeddings for text. Vectors are L2-normalized so
// inner product equals cosine similarity. Mixing vectors from embedders with
// different models or dimensions in one index is invalid.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

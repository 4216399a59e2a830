// Package embedding turns text into vectors for evidence retrieval. Providers
// are OpenAI, a local ONNX model and a deterministic mock, optionally behind
// an LRU cache.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

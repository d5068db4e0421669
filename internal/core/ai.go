package core

import "context"

// EmbeddingProvider turns chunk texts into fixed-dimension vectors. The
// result is order-preserving and has exactly one vector per input text;
// implementations batch internally but never skip a failed batch.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

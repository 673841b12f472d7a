// Package embedding turns text into fixed-length vectors. Implementations
// wrap an OpenAI-compatible API or compute deterministic local vectors for
// offline use; callers only see the Embedder interface.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbedding is wrapped by every backend failure so callers can treat
// "the embedding collaborator is down" uniformly with errors.Is.
var ErrEmbedding = errors.New("embedding: backend failure")

// Embedder converts text to vectors.
//
// Embed is batched: one call may carry many texts and must return one
// vector per input, in input order. Vectors are raw model output; any
// normalization is the consumer's concern. Embed must be deterministic
// for identical input and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality, fixed per instance.
	Dimensions() int

	// Name identifies the embedder.
	Name() string
}

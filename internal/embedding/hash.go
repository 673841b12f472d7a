package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// Compile-time interface check.
var _ Embedder = (*HashEmbedder)(nil)

// HashEmbedder produces deterministic vectors without a model backend by
// hashing rune bigrams into a fixed number of buckets, so texts that share
// character sequences land near each other. Useful for offline runs and
// tests; not a substitute for a learned embedding.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a local hash embedder with the given
// dimensionality.
func NewHashEmbedder(dim int) (*HashEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding: hash dimensions must be positive, got %d", dim)
	}
	return &HashEmbedder{dim: dim}, nil
}

func (h *HashEmbedder) Name() string    { return fmt.Sprintf("hash-bigram-%d", h.dim) }
func (h *HashEmbedder) Dimensions() int { return h.dim }

// Embed hashes each text locally. It never fails and ignores the context.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embedOne(t)
	}
	return out, nil
}

// embedOne counts rune bigrams per bucket. A single-rune text hashes that
// rune paired with itself; the empty text yields the zero vector.
func (h *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dim)
	runes := []rune(text)
	switch {
	case len(runes) == 0:
	case len(runes) == 1:
		vec[h.bucket(runes[0], runes[0])]++
	default:
		for i := 0; i+1 < len(runes); i++ {
			vec[h.bucket(runes[i], runes[i+1])]++
		}
	}
	return vec
}

func (h *HashEmbedder) bucket(a, b rune) int {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(a))
	binary.LittleEndian.PutUint32(buf[4:], uint32(b))
	f := fnv.New32a()
	f.Write(buf[:])
	return int(f.Sum32() % uint32(h.dim))
}

// Package retriever wires the chunker, the embedder, and the vector index
// into one retrieval pipeline: chunks in, ranked threshold-filtered hits
// out. It owns batching of embedding calls and the candidate-pool sizing
// around threshold filtering, nothing else; index internals stay behind
// the vecindex contract.
package retriever

import (
	"context"
	"fmt"
	"log"

	"ragline/internal/chunker"
	"ragline/internal/embedding"
	"ragline/internal/vecindex"
)

const (
	defaultTopK            = 5
	defaultBatchSize       = 32
	defaultCandidateFactor = 3
)

// Options configures a Retriever. Zero values fall back to the defaults
// above; negatives are rejected.
type Options struct {
	// TopK is the default number of hits when Search is called with
	// topK <= 0.
	TopK int
	// SimilarityThreshold is the default minimum score when Search is
	// called with a negative threshold. Zero disables filtering.
	SimilarityThreshold float32
	// BatchSize bounds how many chunk contents go to the embedder per
	// call, keeping in-flight memory independent of corpus size.
	BatchSize int
	// CandidateFactor scales the candidate pool requested from the index
	// (topK * CandidateFactor), so threshold filtering has headroom.
	CandidateFactor int
}

// Retriever orchestrates index builds and similarity search. Safe for
// concurrent use; builds go through the store's generation swap, so
// in-flight searches are never served a partial index.
type Retriever struct {
	embedder embedding.Embedder
	store    *vecindex.Store
	opts     Options
}

// Stats describes the current index for status displays.
type Stats struct {
	Vectors   int    `json:"vectors"`
	Dimension int    `json:"dimension"`
	Structure string `json:"structure"`
	Embedder  string `json:"embedder"`
}

// New validates opts and returns a Retriever over the given embedder and
// store.
func New(embedder embedding.Embedder, store *vecindex.Store, opts Options) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retriever: embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("retriever: store is required")
	}
	if opts.TopK < 0 || opts.BatchSize < 0 || opts.CandidateFactor < 0 {
		return nil, fmt.Errorf("retriever: negative option values: top_k=%d batch_size=%d candidate_factor=%d",
			opts.TopK, opts.BatchSize, opts.CandidateFactor)
	}
	if opts.TopK == 0 {
		opts.TopK = defaultTopK
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.CandidateFactor == 0 {
		opts.CandidateFactor = defaultCandidateFactor
	}
	return &Retriever{embedder: embedder, store: store, opts: opts}, nil
}

// BuildIndex embeds every chunk's content and replaces the index with the
// result. Embedding runs in order-preserving batches; any failure aborts
// before the store is touched, so a broken embedding backend never leaves
// a partially-populated index. Building twice from the same chunks yields
// an equivalent index.
func (r *Retriever) BuildIndex(ctx context.Context, chunks []chunker.Chunk) error {
	entries := make([]vecindex.Entry, 0, len(chunks))
	for start := 0; start < len(chunks); start += r.opts.BatchSize {
		end := start + r.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("retriever: embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("retriever: %w: embedder returned %d vectors for %d chunks",
				embedding.ErrEmbedding, len(vectors), len(batch))
		}
		for i, v := range vectors {
			entries = append(entries, vecindex.Entry{Vector: v, Chunk: batch[i]})
		}
	}

	if err := r.store.Build(entries); err != nil {
		return err
	}
	log.Printf("[retriever] indexed %d chunks (dim=%d, embedder=%s)",
		len(entries), r.store.Dimension(), r.embedder.Name())
	return nil
}

// Search embeds query and returns up to topK hits with Score >= threshold,
// in the index's ranking order. topK <= 0 uses the configured default; a
// negative threshold uses the configured default, and threshold 0 disables
// filtering (the comparison is >=, so a hit exactly at the threshold is
// kept). An empty index or a fully filtered candidate set is an empty
// result, not an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int, threshold float32) ([]vecindex.QueryResult, error) {
	if topK <= 0 {
		topK = r.opts.TopK
	}
	if threshold < 0 {
		threshold = r.opts.SimilarityThreshold
	}
	if !r.store.Built() {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("retriever: %w: embedder returned %d vectors for one query",
			embedding.ErrEmbedding, len(vectors))
	}

	// Over-fetch so threshold filtering still leaves topK survivors when
	// possible.
	candidates, err := r.store.Search(vectors[0], topK*r.opts.CandidateFactor)
	if err != nil {
		return nil, err
	}

	results := make([]vecindex.QueryResult, 0, topK)
	for _, c := range candidates {
		if threshold > 0 && c.Score < threshold {
			continue
		}
		results = append(results, c)
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// SaveIndex persists the index to path, unchanged pass-through.
func (r *Retriever) SaveIndex(ctx context.Context, path string) error {
	return r.store.Save(ctx, path)
}

// LoadIndex restores the index from path. A missing file reports
// (false, nil) so callers can fall back to a fresh build.
func (r *Retriever) LoadIndex(ctx context.Context, path string) (bool, error) {
	return r.store.Load(ctx, path)
}

// Ready reports whether the index holds content and queries can be served.
func (r *Retriever) Ready() bool { return r.store.Built() }

// Stats returns index statistics.
func (r *Retriever) Stats() Stats {
	return Stats{
		Vectors:   r.store.Count(),
		Dimension: r.store.Dimension(),
		Structure: r.store.Structure(),
		Embedder:  r.embedder.Name(),
	}
}

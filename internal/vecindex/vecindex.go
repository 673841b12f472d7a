// Package vecindex stores one vector per chunk and answers nearest-neighbor
// queries by inner product on L2-normalized vectors (cosine similarity).
//
// The Store owns the mapping from internal position to chunk identity and
// enforces a single dimension across all entries, fixed at first build.
// Builds stage a complete new generation and swap it in atomically, so
// in-flight searches keep reading the old generation. The underlying
// search structure is swappable: an exact flat scan and an HNSW graph are
// provided.
package vecindex

import "errors"

// Sentinel errors returned by Store operations.
var (
	// ErrDimensionLocked reports a build whose vectors disagree with the
	// dimension fixed at first build. Reset clears the lock.
	ErrDimensionLocked = errors.New("vecindex: index dimension is fixed, reset before rebuilding with a different dimension")
	// ErrDimensionMismatch reports a vector whose length disagrees with
	// the rest of the batch or with the index dimension.
	ErrDimensionMismatch = errors.New("vecindex: vector dimension mismatch")
	// ErrIndexFormat reports a corrupt or incompatible persisted index.
	ErrIndexFormat = errors.New("vecindex: incompatible or corrupt index file")
	// ErrNotBuilt reports an operation that needs index content before any
	// build or load.
	ErrNotBuilt = errors.New("vecindex: index not built")
)

// Candidate is one nearest-neighbor hit from a search structure,
// addressed by insertion position.
type Candidate struct {
	Pos   uint32
	Score float32
}

// Searcher is the swappable nearest-neighbor structure. Vectors must be
// unit-length and are addressed by insertion position, starting at 0.
// Implementations are not safe for concurrent mutation; the Store builds
// a full generation before publishing it to readers.
type Searcher interface {
	// Add appends a vector at the next position.
	Add(vec []float32)

	// Search returns up to k candidates ordered by descending score, ties
	// by ascending position. The query must be unit-length.
	Search(query []float32, k int) []Candidate

	// Len returns the number of stored vectors.
	Len() int
}

// Structure names accepted by Options.
const (
	StructureFlat = "flat"
	StructureHNSW = "hnsw"
)

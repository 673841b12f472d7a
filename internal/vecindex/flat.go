package vecindex

import (
	"sort"

	"ragline/internal/vecmath"
)

// Compile-time interface check.
var _ Searcher = (*Flat)(nil)

// Flat is the exact search structure: a linear scan over all stored
// vectors. O(n) per query, but exact and allocation-light; the right
// choice for small corpora and for verifying the approximate structure.
type Flat struct {
	vectors [][]float32
}

// NewFlat creates an empty flat structure.
func NewFlat() *Flat {
	return &Flat{}
}

func (f *Flat) Add(vec []float32) {
	f.vectors = append(f.vectors, vec)
}

func (f *Flat) Len() int { return len(f.vectors) }

func (f *Flat) Search(query []float32, k int) []Candidate {
	if k <= 0 || len(f.vectors) == 0 {
		return nil
	}
	cands := make([]Candidate, len(f.vectors))
	for i, v := range f.vectors {
		cands[i] = Candidate{Pos: uint32(i), Score: vecmath.Dot(query, v)}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Pos < cands[j].Pos
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

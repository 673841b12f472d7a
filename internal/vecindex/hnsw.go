package vecindex

import (
	"math"
	"sort"

	"ragline/internal/vecmath"
)

// Compile-time interface check.
var _ Searcher = (*HNSW)(nil)

// HNSWOptions configures the HNSW graph.
type HNSWOptions struct {
	M              int     // Max connections per node (default 16)
	EfConstruction int     // Construction search depth (default 200)
	EfSearch       int     // Query search depth (default 50)
	LevelMult      float64 // Level multiplier (default 1/ln(M))
}

func (o HNSWOptions) withDefaults() HNSWOptions {
	if o.M == 0 {
		o.M = 16
	}
	if o.EfConstruction == 0 {
		o.EfConstruction = 200
	}
	if o.EfSearch == 0 {
		o.EfSearch = 50
	}
	if o.LevelMult == 0 {
		o.LevelMult = 1.0 / math.Log(float64(o.M))
	}
	return o
}

// hnswNode is one graph node. The node's slice index is its position.
type hnswNode struct {
	vector    []float32
	level     int
	neighbors [][]uint32 // neighbors[level] = neighbor positions
}

// HNSW is a Hierarchical Navigable Small World graph over unit vectors.
// Node levels are derived from the insertion position rather than drawn
// from a PRNG, so building the same vectors in the same order always
// yields the same graph and therefore the same search results.
type HNSW struct {
	nodes      []hnswNode
	entryPoint int32 // -1 if empty
	maxLevel   int
	opts       HNSWOptions
}

// NewHNSW creates an empty HNSW structure.
func NewHNSW(opts HNSWOptions) *HNSW {
	return &HNSW{
		entryPoint: -1,
		opts:       opts.withDefaults(),
	}
}

func (h *HNSW) Len() int { return len(h.nodes) }

// dist is the cosine distance between unit vectors: 0 identical, 2 opposite.
func dist(a, b []float32) float32 {
	return 1 - vecmath.Dot(a, b)
}

func (h *HNSW) Add(vec []float32) {
	pos := uint32(len(h.nodes))
	level := h.levelFor(pos)

	n := hnswNode{
		vector:    vec,
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]uint32, 0, h.opts.M)
	}
	h.nodes = append(h.nodes, n)

	if h.entryPoint < 0 {
		h.entryPoint = int32(pos)
		h.maxLevel = level
		return
	}

	// Descend from the top of the graph to the node's level.
	curr := uint32(h.entryPoint)
	for l := h.maxLevel; l > level; l-- {
		curr = h.greedyClosest(vec, curr, l)
	}

	// Connect at each level from the node's level down to 0.
	for l := min(level, h.maxLevel); l >= 0; l-- {
		neighbors := h.searchLayer(vec, curr, h.opts.EfConstruction, l)
		h.connect(pos, neighbors, l)
		if len(neighbors) > 0 {
			curr = neighbors[0]
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = int32(pos)
	}
}

// levelFor maps a position to a graph level with the usual exponential
// distribution, using a splitmix64 scramble of the position as the
// uniform draw.
func (h *HNSW) levelFor(pos uint32) int {
	x := uint64(pos) + 0x9e3779b97f4a7c15
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	r := (float64(x>>11) + 0.5) / (1 << 53)
	return int(-math.Log(r) * h.opts.LevelMult)
}

// greedyClosest walks level l from entry toward the query until no
// neighbor improves the distance.
func (h *HNSW) greedyClosest(query []float32, entry uint32, l int) uint32 {
	curr := entry
	currDist := dist(query, h.nodes[curr].vector)
	for {
		changed := false
		if l < len(h.nodes[curr].neighbors) {
			for _, nb := range h.nodes[curr].neighbors[l] {
				if d := dist(query, h.nodes[nb].vector); d < currDist {
					curr, currDist = nb, d
					changed = true
				}
			}
		}
		if !changed {
			return curr
		}
	}
}

// searchLayer runs a best-first search on level l keeping up to ef
// candidates, returned closest-first.
func (h *HNSW) searchLayer(query []float32, entry uint32, ef, l int) []uint32 {
	visited := map[uint32]bool{entry: true}
	candidates := &distHeap{}
	results := &distHeap{}

	d := dist(query, h.nodes[entry].vector)
	candidates.push(distItem{pos: entry, dist: d})
	results.push(distItem{pos: entry, dist: d})

	for candidates.len() > 0 {
		curr := candidates.pop()
		if results.len() >= ef && curr.dist > results.farthest().dist {
			break
		}
		if l >= len(h.nodes[curr.pos].neighbors) {
			continue
		}
		for _, nb := range h.nodes[curr.pos].neighbors[l] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nd := dist(query, h.nodes[nb].vector)
			if results.len() < ef || nd < results.farthest().dist {
				candidates.push(distItem{pos: nb, dist: nd})
				results.push(distItem{pos: nb, dist: nd})
				if results.len() > ef {
					results.dropFarthest()
				}
			}
		}
	}

	out := results.sorted()
	return out
}

// connect links a new node to its nearest neighbors bidirectionally,
// pruning any neighbor that ends up over-connected.
func (h *HNSW) connect(pos uint32, neighbors []uint32, l int) {
	m := h.opts.M
	if l == 0 {
		m = h.opts.M * 2
	}
	selected := neighbors
	if len(selected) > m {
		selected = selected[:m]
	}
	h.nodes[pos].neighbors[l] = append(h.nodes[pos].neighbors[l], selected...)
	for _, nb := range selected {
		if l >= len(h.nodes[nb].neighbors) {
			continue
		}
		h.nodes[nb].neighbors[l] = append(h.nodes[nb].neighbors[l], pos)
		if len(h.nodes[nb].neighbors[l]) > m {
			h.prune(nb, l, m)
		}
	}
}

// prune keeps a node's m closest neighbors at level l.
func (h *HNSW) prune(pos uint32, l, m int) {
	neighbors := h.nodes[pos].neighbors[l]
	if len(neighbors) <= m {
		return
	}
	sort.Slice(neighbors, func(i, j int) bool {
		di := dist(h.nodes[pos].vector, h.nodes[neighbors[i]].vector)
		dj := dist(h.nodes[pos].vector, h.nodes[neighbors[j]].vector)
		if di != dj {
			return di < dj
		}
		return neighbors[i] < neighbors[j]
	})
	h.nodes[pos].neighbors[l] = neighbors[:m:m]
}

func (h *HNSW) Search(query []float32, k int) []Candidate {
	if k <= 0 || h.entryPoint < 0 {
		return nil
	}

	curr := uint32(h.entryPoint)
	for l := h.maxLevel; l > 0; l-- {
		curr = h.greedyClosest(query, curr, l)
	}

	ef := h.opts.EfSearch
	if k > ef {
		ef = k
	}
	found := h.searchLayer(query, curr, ef, 0)

	cands := make([]Candidate, len(found))
	for i, pos := range found {
		cands[i] = Candidate{Pos: pos, Score: vecmath.Dot(query, h.nodes[pos].vector)}
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

// distItem pairs a position with its distance to the current query.
type distItem struct {
	pos  uint32
	dist float32
}

// distHeap is a small min-heap on distance used by searchLayer.
type distHeap struct {
	items []distItem
}

func (h *distHeap) len() int { return len(h.items) }

func (h *distHeap) push(item distItem) {
	h.items = append(h.items, item)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].dist >= h.items[parent].dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *distHeap) pop() distItem {
	item := h.items[0]
	h.items[0] = h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	h.siftDown(0)
	return item
}

// farthest returns the retained item with the largest distance. A linear
// scan beats maintaining a second heap at the ef sizes in play.
func (h *distHeap) farthest() distItem {
	far := h.items[0]
	for _, it := range h.items[1:] {
		if it.dist > far.dist {
			far = it
		}
	}
	return far
}

func (h *distHeap) dropFarthest() {
	if len(h.items) == 0 {
		return
	}
	farIdx := 0
	for i := 1; i < len(h.items); i++ {
		if h.items[i].dist > h.items[farIdx].dist {
			farIdx = i
		}
	}
	last := len(h.items) - 1
	h.items[farIdx] = h.items[last]
	h.items = h.items[:last]
	if farIdx < len(h.items) {
		h.siftDown(farIdx)
		h.siftUp(farIdx)
	}
}

// sorted returns the positions ordered by ascending distance, ties by
// ascending position.
func (h *distHeap) sorted() []uint32 {
	items := make([]distItem, len(h.items))
	copy(items, h.items)
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return items[i].pos < items[j].pos
	})
	out := make([]uint32, len(items))
	for i, it := range items {
		out[i] = it.pos
	}
	return out
}

func (h *distHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].dist >= h.items[parent].dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *distHeap) siftDown(i int) {
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < len(h.items) && h.items[left].dist < h.items[smallest].dist {
			smallest = left
		}
		if right < len(h.items) && h.items[right].dist < h.items[smallest].dist {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

package vecindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"ragline/internal/chunker"
	"ragline/internal/vecmath"
)

// Entry pairs a chunk with its embedding for Build.
type Entry struct {
	Vector []float32
	Chunk  chunker.Chunk
}

// QueryResult is one ranked hit. Content and metadata are copied from the
// matching chunk; Score is cosine similarity, higher is more relevant.
// Status and ErrorMsg are empty for healthy hits and describe degraded
// ones.
type QueryResult struct {
	ChunkID    string            `json:"chunk_id"`
	Content    string            `json:"content"`
	SourceFile string            `json:"source_file,omitempty"`
	ChunkIndex int               `json:"chunk_index"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float32           `json:"score"`
	Status     string            `json:"status,omitempty"`
	ErrorMsg   string            `json:"error_msg,omitempty"`
}

// Options configures a Store.
type Options struct {
	// Structure selects the search structure, StructureHNSW by default.
	Structure string
	HNSW      HNSWOptions
}

// generation is one immutable build of the index. Readers that grabbed a
// generation keep using it even while a newer one is being swapped in.
type generation struct {
	searcher Searcher
	chunks   []chunker.Chunk
	vectors  [][]float32 // unit vectors by position, retained for Save
}

// Store is the vector index: it owns the position-to-chunk mapping, fixes
// the vector dimension at first build, and serves similarity queries.
// Safe for concurrent use; builds never block in-flight searches.
type Store struct {
	opts Options

	mu  sync.RWMutex
	dim int // fixed at first build/load, 0 while unset
	gen *generation
}

// NewStore creates an empty Store.
func NewStore(opts Options) (*Store, error) {
	switch opts.Structure {
	case "":
		opts.Structure = StructureHNSW
	case StructureFlat, StructureHNSW:
	default:
		return nil, fmt.Errorf("vecindex: unknown search structure %q", opts.Structure)
	}
	return &Store{opts: opts}, nil
}

func (s *Store) newSearcher() Searcher {
	if s.opts.Structure == StructureFlat {
		return NewFlat()
	}
	return NewHNSW(s.opts.HNSW)
}

// Build replaces any existing content with entries. Vectors are
// L2-normalized here; callers hand in raw embedder output. All entries
// must share one dimension, and once the Store has a dimension only that
// dimension builds are accepted until Reset.
//
// The new generation is staged completely before being published, so a
// failed build leaves the previous content untouched and concurrent
// searches never see a partial index.
func (s *Store) Build(entries []Entry) error {
	dim, err := batchDim(entries)
	if err != nil {
		return err
	}

	g := &generation{
		searcher: s.newSearcher(),
		chunks:   make([]chunker.Chunk, len(entries)),
		vectors:  make([][]float32, len(entries)),
	}
	for i, e := range entries {
		v := vecmath.Normalize(e.Vector)
		g.chunks[i] = e.Chunk
		g.vectors[i] = v
		g.searcher.Add(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if dim > 0 && s.dim > 0 && dim != s.dim {
		return fmt.Errorf("%w: index has %d dimensions, build has %d", ErrDimensionLocked, s.dim, dim)
	}
	if dim > 0 {
		s.dim = dim
	}
	s.gen = g
	return nil
}

// batchDim returns the shared dimension of entries, 0 for an empty batch.
func batchDim(entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	dim := len(entries[0].Vector)
	if dim == 0 {
		return 0, fmt.Errorf("%w: entry 0 has an empty vector", ErrDimensionMismatch)
	}
	for i, e := range entries[1:] {
		if len(e.Vector) != dim {
			return 0, fmt.Errorf("%w: entry %d has %d dimensions, want %d", ErrDimensionMismatch, i+1, len(e.Vector), dim)
		}
	}
	return dim, nil
}

// Search returns up to topK hits sorted by descending score, ties broken
// by ascending chunk index and then insertion position. Searching before
// any build or load is not an error: it returns no results. The query is
// normalized internally.
func (s *Store) Search(query []float32, topK int) ([]QueryResult, error) {
	s.mu.RLock()
	g, dim := s.gen, s.dim
	s.mu.RUnlock()

	if g == nil || topK <= 0 {
		return nil, nil
	}
	if dim > 0 && len(query) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), dim)
	}

	cands := g.searcher.Search(vecmath.Normalize(query), topK)
	results := make([]QueryResult, 0, len(cands))
	for _, c := range cands {
		ch := g.chunks[c.Pos]
		results = append(results, QueryResult{
			ChunkID:    ch.ID,
			Content:    ch.Content,
			SourceFile: ch.SourceFile,
			ChunkIndex: ch.Index,
			Metadata:   copyMeta(ch.Metadata),
			Score:      c.Score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	return results, nil
}

// Built reports whether the Store holds a generation from Build or Load.
func (s *Store) Built() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen == nil {
		return 0
	}
	return s.gen.searcher.Len()
}

// Dimension returns the fixed vector dimension, 0 before the first build
// or load.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Structure returns the active search structure name.
func (s *Store) Structure() string { return s.opts.Structure }

// Reset discards all content and releases the dimension lock.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen = nil
	s.dim = 0
}

const schemaVersion = 1

const indexSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	schema_version INTEGER NOT NULL,
	dimension INTEGER NOT NULL,
	vector_count INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS index_chunks (
	position INTEGER PRIMARY KEY,
	chunk_id TEXT NOT NULL,
	content TEXT NOT NULL,
	source_file TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	start_pos INTEGER NOT NULL,
	end_pos INTEGER NOT NULL,
	metadata TEXT,
	embedding BLOB NOT NULL
);`

// Save writes the dimension, vector count, unit vectors, and the
// position-keyed chunk table to a SQLite file at path in one transaction,
// replacing whatever index the file held before.
func (s *Store) Save(ctx context.Context, path string) error {
	s.mu.RLock()
	g, dim := s.gen, s.dim
	s.mu.RUnlock()
	if g == nil {
		return ErrNotBuilt
	}

	db, err := openIndexDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vecindex: begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_chunks`); err != nil {
		return fmt.Errorf("vecindex: clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return fmt.Errorf("vecindex: clear meta: %w", err)
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (id, schema_version, dimension, vector_count, created_at) VALUES (1, ?, ?, ?, ?)`,
		schemaVersion, dim, len(g.vectors), createdAt); err != nil {
		return fmt.Errorf("vecindex: write meta: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO index_chunks
		(position, chunk_id, content, source_file, chunk_index, start_pos, end_pos, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("vecindex: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range g.chunks {
		var metaJSON []byte
		if ch.Metadata != nil {
			metaJSON, err = json.Marshal(ch.Metadata)
			if err != nil {
				return fmt.Errorf("vecindex: marshal metadata for chunk %d: %w", i, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, i, ch.ID, ch.Content, ch.SourceFile, ch.Index,
			ch.StartPos, ch.EndPos, metaJSON, encodeVector(g.vectors[i])); err != nil {
			return fmt.Errorf("vecindex: write chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

type indexMeta struct {
	SchemaVersion int `db:"schema_version"`
	Dimension     int `db:"dimension"`
	VectorCount   int `db:"vector_count"`
}

type chunkRow struct {
	Position   int            `db:"position"`
	ChunkID    string         `db:"chunk_id"`
	Content    string         `db:"content"`
	SourceFile string         `db:"source_file"`
	ChunkIndex int            `db:"chunk_index"`
	StartPos   int            `db:"start_pos"`
	EndPos     int            `db:"end_pos"`
	Metadata   sql.NullString `db:"metadata"`
	Embedding  []byte         `db:"embedding"`
}

// Load replaces the Store content from a file written by Save, rebuilding
// the search structure from the stored vectors. A missing file is not an
// error: Load reports (false, nil) so callers can fall back to a fresh
// build. A corrupt file, a wrong schema version, or a dimension that
// disagrees with the Store's fixed dimension returns ErrIndexFormat.
func (s *Store) Load(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("vecindex: stat %s: %w", path, err)
	}

	db, err := openIndexDB(path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIndexFormat, err)
	}
	defer db.Close()

	var meta indexMeta
	if err := db.GetContext(ctx, &meta,
		`SELECT schema_version, dimension, vector_count FROM index_meta WHERE id = 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: missing index metadata in %s", ErrIndexFormat, path)
		}
		return false, fmt.Errorf("%w: %v", ErrIndexFormat, err)
	}
	if meta.SchemaVersion != schemaVersion {
		return false, fmt.Errorf("%w: schema version %d, want %d", ErrIndexFormat, meta.SchemaVersion, schemaVersion)
	}
	if meta.VectorCount < 0 || meta.Dimension < 0 || (meta.VectorCount > 0 && meta.Dimension == 0) {
		return false, fmt.Errorf("%w: dimension %d with %d vectors", ErrIndexFormat, meta.Dimension, meta.VectorCount)
	}

	var rows []chunkRow
	if err := db.SelectContext(ctx, &rows,
		`SELECT position, chunk_id, content, source_file, chunk_index, start_pos, end_pos, metadata, embedding
		 FROM index_chunks ORDER BY position`); err != nil {
		return false, fmt.Errorf("%w: %v", ErrIndexFormat, err)
	}
	if len(rows) != meta.VectorCount {
		return false, fmt.Errorf("%w: metadata promises %d vectors, file holds %d", ErrIndexFormat, meta.VectorCount, len(rows))
	}

	g := &generation{
		searcher: s.newSearcher(),
		chunks:   make([]chunker.Chunk, len(rows)),
		vectors:  make([][]float32, len(rows)),
	}
	for i, r := range rows {
		if r.Position != i {
			return false, fmt.Errorf("%w: position %d out of sequence at row %d", ErrIndexFormat, r.Position, i)
		}
		if len(r.Embedding) != meta.Dimension*4 {
			return false, fmt.Errorf("%w: vector %d has %d bytes, want %d", ErrIndexFormat, i, len(r.Embedding), meta.Dimension*4)
		}
		ch := chunker.Chunk{
			ID:         r.ChunkID,
			Content:    r.Content,
			SourceFile: r.SourceFile,
			Index:      r.ChunkIndex,
			StartPos:   r.StartPos,
			EndPos:     r.EndPos,
		}
		if r.Metadata.Valid && r.Metadata.String != "" {
			if err := json.Unmarshal([]byte(r.Metadata.String), &ch.Metadata); err != nil {
				return false, fmt.Errorf("%w: chunk %d metadata: %v", ErrIndexFormat, i, err)
			}
		}
		v := decodeVector(r.Embedding)
		g.chunks[i] = ch
		g.vectors[i] = v
		g.searcher.Add(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.Dimension > 0 {
		if s.dim > 0 && s.dim != meta.Dimension {
			return false, fmt.Errorf("%w: file dimension %d, index dimension %d", ErrIndexFormat, meta.Dimension, s.dim)
		}
		s.dim = meta.Dimension
	}
	s.gen = g
	return true, nil
}

func openIndexDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vecindex: open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("vecindex: pragma failed: %w", err)
		}
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vecindex: schema creation failed: %w", err)
	}
	return db, nil
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// encodeVector converts []float32 to little-endian bytes.
func encodeVector(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector converts little-endian bytes back to []float32.
func decodeVector(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}

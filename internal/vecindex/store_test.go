package vecindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ragline/internal/chunker"
)

func entry(id string, index int, content string, vec []float32) Entry {
	return Entry{
		Vector: vec,
		Chunk: chunker.Chunk{
			ID:         id,
			Content:    content,
			SourceFile: "docs/a.md",
			Index:      index,
			StartPos:   index * 10,
			EndPos:     index*10 + 5,
			Metadata:   map[string]string{"heading": "Intro"},
		},
	}
}

func mustStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := NewStore(opts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStore_BuildAndSearch(t *testing.T) {
	s := mustStore(t, Options{})
	// Raw, un-normalized vectors: normalization is the store's job.
	err := s.Build([]Entry{
		entry("a", 0, "alpha", []float32{2, 0, 0}),
		entry("b", 1, "beta", []float32{0, 3, 0}),
		entry("c", 2, "gamma", []float32{1.5, 0.2, 0}),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	results, err := s.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "a" {
		t.Errorf("expected chunk a first, got %s", results[0].ChunkID)
	}
	if results[0].Score < 0.999 {
		t.Errorf("identical direction should score near 1.0, got %f", results[0].Score)
	}
	if results[1].ChunkID != "c" {
		t.Errorf("expected chunk c second, got %s", results[1].ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores out of order: %f then %f", results[0].Score, results[1].Score)
	}
	if results[0].Content != "alpha" || results[0].SourceFile != "docs/a.md" {
		t.Errorf("chunk fields not carried through: %+v", results[0])
	}
}

func TestStore_SearchBeforeBuild(t *testing.T) {
	s := mustStore(t, Options{})
	results, err := s.Search([]float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("search on empty store must not error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
	if s.Built() {
		t.Error("Built() should be false before any build")
	}
}

func TestStore_TopKBounds(t *testing.T) {
	s := mustStore(t, Options{})
	if err := s.Build([]Entry{entry("a", 0, "alpha", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	if res, err := s.Search([]float32{1, 0}, 0); err != nil || res != nil {
		t.Errorf("topK=0: got %v, %v", res, err)
	}
	res, err := s.Search([]float32{1, 0}, 100)
	if err != nil || len(res) != 1 {
		t.Errorf("topK beyond count: got %v, %v", res, err)
	}
}

func TestStore_BatchDimensionMismatch(t *testing.T) {
	s := mustStore(t, Options{})
	err := s.Build([]Entry{
		entry("a", 0, "alpha", []float32{1, 0, 0}),
		entry("b", 1, "beta", []float32{1, 0}),
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if s.Built() {
		t.Error("failed build must not leave content behind")
	}
}

func TestStore_QueryDimensionMismatch(t *testing.T) {
	s := mustStore(t, Options{})
	if err := s.Build([]Entry{entry("a", 0, "alpha", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Search([]float32{1, 0}, 3)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestStore_DimensionLockAndReset(t *testing.T) {
	s := mustStore(t, Options{})
	if err := s.Build([]Entry{entry("a", 0, "alpha", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}

	err := s.Build([]Entry{entry("b", 0, "beta", []float32{1, 0, 0, 0})})
	if !errors.Is(err, ErrDimensionLocked) {
		t.Fatalf("expected ErrDimensionLocked, got %v", err)
	}

	s.Reset()
	if s.Built() || s.Dimension() != 0 {
		t.Fatal("Reset should clear content and the dimension lock")
	}
	if err := s.Build([]Entry{entry("b", 0, "beta", []float32{1, 0, 0, 0})}); err != nil {
		t.Fatalf("build after reset: %v", err)
	}
	if s.Dimension() != 4 {
		t.Errorf("Dimension() = %d after rebuild", s.Dimension())
	}
}

func TestStore_BuildReplaces(t *testing.T) {
	s := mustStore(t, Options{})
	if err := s.Build([]Entry{
		entry("a", 0, "alpha", []float32{1, 0}),
		entry("b", 1, "beta", []float32{0, 1}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Build([]Entry{entry("c", 0, "gamma", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}

	if s.Count() != 1 {
		t.Fatalf("Count() = %d after replacing build", s.Count())
	}
	results, err := s.Search([]float32{0, 1}, 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ChunkID == "a" || r.ChunkID == "b" {
			t.Errorf("stale chunk %s survived rebuild", r.ChunkID)
		}
	}
}

func TestStore_TieBreakByChunkIndex(t *testing.T) {
	s := mustStore(t, Options{})
	// Identical vectors, inserted out of chunk order.
	if err := s.Build([]Entry{
		entry("third", 2, "c3", []float32{1, 0}),
		entry("first", 0, "c1", []float32{1, 0}),
		entry("second", 1, "c2", []float32{1, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []int{0, 1, 2} {
		if results[i].ChunkIndex != want {
			t.Errorf("rank %d: ChunkIndex = %d, want %d", i, results[i].ChunkIndex, want)
		}
	}
}

func TestStore_MetadataCopiedOut(t *testing.T) {
	s := mustStore(t, Options{})
	if err := s.Build([]Entry{entry("a", 0, "alpha", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}

	first, _ := s.Search([]float32{1, 0}, 1)
	first[0].Metadata["heading"] = "mutated"

	second, _ := s.Search([]float32{1, 0}, 1)
	if second[0].Metadata["heading"] != "Intro" {
		t.Error("result metadata must be a copy, not a view into the index")
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for _, structure := range []string{StructureHNSW, StructureFlat} {
		t.Run(structure, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "index.db")

			src := mustStore(t, Options{Structure: structure})
			if err := src.Build([]Entry{
				entry("a", 0, "alpha", []float32{2, 0, 0}),
				entry("b", 1, "beta", []float32{0, 1, 0.5}),
				entry("c", 2, "gamma", []float32{0.5, 0.5, 0}),
				entry("d", 3, "delta", []float32{0, 0, 1}),
			}); err != nil {
				t.Fatal(err)
			}
			if err := src.Save(ctx, path); err != nil {
				t.Fatalf("Save: %v", err)
			}

			dst := mustStore(t, Options{Structure: structure})
			ok, err := dst.Load(ctx, path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !ok {
				t.Fatal("Load reported no file")
			}
			if dst.Count() != src.Count() || dst.Dimension() != src.Dimension() {
				t.Fatalf("shape mismatch after load: count %d/%d dim %d/%d",
					dst.Count(), src.Count(), dst.Dimension(), src.Dimension())
			}

			query := []float32{1, 0.2, 0.1}
			want, err := src.Search(query, 4)
			if err != nil {
				t.Fatal(err)
			}
			got, err := dst.Search(query, 4)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(want) {
				t.Fatalf("result count %d, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].ChunkID != want[i].ChunkID {
					t.Errorf("rank %d: chunk %s, want %s", i, got[i].ChunkID, want[i].ChunkID)
				}
				if diff := got[i].Score - want[i].Score; diff > 1e-6 || diff < -1e-6 {
					t.Errorf("rank %d: score %f, want %f", i, got[i].Score, want[i].Score)
				}
				if got[i].Content != want[i].Content || got[i].ChunkIndex != want[i].ChunkIndex {
					t.Errorf("rank %d: chunk fields differ: %+v vs %+v", i, got[i], want[i])
				}
				if got[i].Metadata["heading"] != want[i].Metadata["heading"] {
					t.Errorf("rank %d: metadata lost in round trip", i)
				}
			}
		})
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := mustStore(t, Options{})
	ok, err := s.Load(context.Background(), filepath.Join(t.TempDir(), "absent.db"))
	if err != nil {
		t.Fatalf("missing file must not error, got %v", err)
	}
	if ok {
		t.Error("Load reported success for a missing file")
	}
}

func TestStore_LoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("this is not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := mustStore(t, Options{})
	_, err := s.Load(context.Background(), path)
	if !errors.Is(err, ErrIndexFormat) {
		t.Fatalf("expected ErrIndexFormat, got %v", err)
	}
}

func TestStore_LoadDimensionConflict(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	wide := mustStore(t, Options{})
	if err := wide.Build([]Entry{entry("a", 0, "alpha", []float32{1, 0, 0, 0})}); err != nil {
		t.Fatal(err)
	}
	if err := wide.Save(ctx, path); err != nil {
		t.Fatal(err)
	}

	narrow := mustStore(t, Options{})
	if err := narrow.Build([]Entry{entry("b", 0, "beta", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	_, err := narrow.Load(ctx, path)
	if !errors.Is(err, ErrIndexFormat) {
		t.Fatalf("expected ErrIndexFormat on dimension conflict, got %v", err)
	}
	// The failed load must not have touched the existing content.
	if narrow.Dimension() != 2 || narrow.Count() != 1 {
		t.Errorf("failed load corrupted the store: dim %d count %d", narrow.Dimension(), narrow.Count())
	}
}

func TestStore_SaveBeforeBuild(t *testing.T) {
	s := mustStore(t, Options{})
	err := s.Save(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt, got %v", err)
	}
}

func TestStore_EmptyBuild(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s := mustStore(t, Options{})
	if err := s.Build(nil); err != nil {
		t.Fatalf("empty build: %v", err)
	}
	if !s.Built() || s.Count() != 0 {
		t.Fatalf("empty build state: built=%v count=%d", s.Built(), s.Count())
	}
	results, err := s.Search([]float32{1, 0}, 3)
	if err != nil || len(results) != 0 {
		t.Fatalf("search on empty build: %v, %v", results, err)
	}
	if err := s.Save(ctx, path); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	fresh := mustStore(t, Options{})
	ok, err := fresh.Load(ctx, path)
	if err != nil || !ok {
		t.Fatalf("load empty: ok=%v err=%v", ok, err)
	}
	if fresh.Count() != 0 {
		t.Errorf("Count() = %d after loading empty index", fresh.Count())
	}
}

func TestStore_StructureSelection(t *testing.T) {
	if _, err := NewStore(Options{Structure: "btree"}); err == nil {
		t.Error("unknown structure should be rejected")
	}
	s := mustStore(t, Options{Structure: StructureFlat})
	if s.Structure() != StructureFlat {
		t.Errorf("Structure() = %q", s.Structure())
	}
	if err := s.Build([]Entry{
		entry("a", 0, "alpha", []float32{1, 0}),
		entry("b", 1, "beta", []float32{0, 1}),
	}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search([]float32{0, 1}, 1)
	if err != nil || len(results) != 1 || results[0].ChunkID != "b" {
		t.Fatalf("flat search: %v, %v", results, err)
	}
}

func TestStore_ConcurrentSearchDuringBuild(t *testing.T) {
	s := mustStore(t, Options{})
	batchA := []Entry{
		entry("a", 0, "alpha", []float32{1, 0}),
		entry("b", 1, "beta", []float32{0, 1}),
	}
	batchB := []Entry{
		entry("c", 0, "gamma", []float32{1, 0}),
		entry("d", 1, "delta", []float32{0, 1}),
	}
	if err := s.Build(batchA); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			batch := batchA
			if i%2 == 0 {
				batch = batchB
			}
			if err := s.Build(batch); err != nil {
				t.Errorf("concurrent build: %v", err)
				return
			}
		}
	}()

	valid := map[string]bool{"a": true, "b": true, "c": true, "d": true}
	for {
		select {
		case <-done:
			return
		default:
		}
		results, err := s.Search([]float32{1, 0}, 2)
		if err != nil {
			t.Fatalf("concurrent search: %v", err)
		}
		for _, r := range results {
			if !valid[r.ChunkID] {
				t.Fatalf("search returned unknown chunk %q", r.ChunkID)
			}
		}
	}
}

package store

import (
	"testing"

	"cogkernel/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunk(id, file, content string) *types.ChunkCard {
	return &types.ChunkCard{
		ID:           id,
		FilePath:     file,
		ChunkType:    types.ChunkSummary,
		Content:      content,
		Symbols:      []string{"ParseConfig", "LoadConfig"},
		Dependencies: []string{"internal/types"},
	}
}

func TestIngestWritesAllRows(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ingest(testChunk("c1", "internal/config/config.go", "parses config")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	got, err := s.GetChunk("c1")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got == nil {
		t.Fatal("chunk not found after ingest")
	}
	if got.Hash != types.ContentHash("parses config") {
		t.Errorf("hash = %q, want content hash", got.Hash)
	}
	if len(got.Symbols) != 2 || len(got.Dependencies) != 1 {
		t.Errorf("symbols/deps = %v / %v", got.Symbols, got.Dependencies)
	}

	entry, err := s.GetQueueEntry("c1")
	if err != nil {
		t.Fatalf("GetQueueEntry: %v", err)
	}
	if entry == nil || entry.Status != types.QueuePending || entry.Retries != 0 {
		t.Errorf("queue entry = %+v, want pending with zero retries", entry)
	}

	files, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].Path != "internal/config/config.go" {
		t.Errorf("files = %+v", files)
	}
}

func TestIngestValidation(t *testing.T) {
	s := newTestStore(t)

	cases := []struct {
		name  string
		chunk *types.ChunkCard
	}{
		{"missing id", &types.ChunkCard{FilePath: "a.go", ChunkType: types.ChunkSummary}},
		{"missing path", &types.ChunkCard{ID: "x", ChunkType: types.ChunkSummary}},
		{"bad type", &types.ChunkCard{ID: "x", FilePath: "a.go", ChunkType: "novel"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Ingest(tc.chunk); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestReingestReplacesIdentity(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ingest(testChunk("c1", "a.go", "v1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.CompleteEmbedding("c1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("CompleteEmbedding: %v", err)
	}

	// Same (file, type) identity under a new id replaces content, keeps
	// the stable id, drops the stale vector, and re-queues.
	if err := s.Ingest(testChunk("c2", "a.go", "v2")); err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}

	if got, _ := s.GetChunk("c2"); got != nil {
		t.Error("new id should not replace the stable identity id")
	}
	got, err := s.GetChunkByIdentity("a.go", types.ChunkSummary)
	if err != nil {
		t.Fatalf("GetChunkByIdentity: %v", err)
	}
	if got == nil || got.ID != "c1" {
		t.Fatalf("identity chunk = %+v, want id c1", got)
	}
	if got.Content != "v2" {
		t.Errorf("content = %q, want v2", got.Content)
	}
	if got.Vector != nil {
		t.Error("stale vector survived re-ingest")
	}

	entry, _ := s.GetQueueEntry("c1")
	if entry == nil || entry.Status != types.QueuePending || entry.Retries != 0 {
		t.Errorf("queue entry = %+v, want reset to pending", entry)
	}
}

func TestSetChunkSignature(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ingest(testChunk("c1", "a.go", "v1")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.SetChunkSignature("c1", "abc123", 1700000000); err != nil {
		t.Fatalf("SetChunkSignature: %v", err)
	}

	got, err := s.GetChunk("c1")
	if err != nil || got == nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got.KernelSig != "abc123" || got.SignedAt != 1700000000 {
		t.Errorf("sig = %q at %d, want abc123 at 1700000000", got.KernelSig, got.SignedAt)
	}

	if err := s.SetChunkSignature("ghost", "abc123", 1700000000); err == nil {
		t.Error("signing a missing chunk did not error")
	}
}

func TestDeleteChunkCascades(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ingest(testChunk("c1", "a.go", "body")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.DeleteChunk("c1"); err != nil {
		t.Fatalf("DeleteChunk: %v", err)
	}

	if got, _ := s.GetChunk("c1"); got != nil {
		t.Error("chunk survived delete")
	}
	if entry, _ := s.GetQueueEntry("c1"); entry != nil {
		t.Error("queue entry survived delete")
	}
	syms, err := s.SymbolsForFile("a.go")
	if err != nil {
		t.Fatalf("SymbolsForFile: %v", err)
	}
	if len(syms) != 0 {
		t.Errorf("symbols survived delete: %v", syms)
	}

	// Deleting a chunk that never existed is not an error.
	if err := s.DeleteChunk("ghost"); err != nil {
		t.Errorf("DeleteChunk(ghost): %v", err)
	}
}

func TestSearchByVectorRanks(t *testing.T) {
	s := newTestStore(t)

	for _, c := range []struct {
		id, file string
		vec      []float32
	}{
		{"c1", "a.go", []float32{1, 0, 0}},
		{"c2", "b.go", []float32{0.9, 0.1, 0}},
		{"c3", "c.go", []float32{0, 1, 0}},
	} {
		if err := s.Ingest(testChunk(c.id, c.file, c.file)); err != nil {
			t.Fatalf("Ingest %s: %v", c.id, err)
		}
		if err := s.CompleteEmbedding(c.id, c.vec); err != nil {
			t.Fatalf("CompleteEmbedding %s: %v", c.id, err)
		}
	}
	// An unembedded chunk must be invisible to vector search.
	if err := s.Ingest(testChunk("c4", "d.go", "d.go")); err != nil {
		t.Fatalf("Ingest c4: %v", err)
	}

	results, err := s.SearchByVector([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Chunk.ID != "c1" || results[1].Chunk.ID != "c2" {
		t.Errorf("order = %s, %s; want c1, c2", results[0].Chunk.ID, results[1].Chunk.ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %f, %f", results[0].Score, results[1].Score)
	}
}

func TestSearchByTextFallback(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ingest(testChunk("c1", "auth/login.go", "validates OAuth tokens")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.Ingest(testChunk("c2", "store/db.go", "opens the database")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	results, err := s.SearchByText("oauth", 10)
	if err != nil {
		t.Fatalf("SearchByText: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c1" {
		t.Errorf("results = %+v, want only c1", results)
	}
}

func TestDependencyGraph(t *testing.T) {
	s := newTestStore(t)

	a := testChunk("c1", "a.go", "a")
	a.Dependencies = []string{"pkg/util"}
	b := testChunk("c2", "b.go", "b")
	b.Dependencies = []string{"pkg/util", "a.go"}
	for _, c := range []*types.ChunkCard{a, b} {
		if err := s.Ingest(c); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	deps, err := s.DependenciesForFile("b.go")
	if err != nil {
		t.Fatalf("DependenciesForFile: %v", err)
	}
	if len(deps) != 2 {
		t.Errorf("deps = %v", deps)
	}

	dependents, err := s.FilesDependingOn("pkg/util")
	if err != nil {
		t.Fatalf("FilesDependingOn: %v", err)
	}
	if len(dependents) != 2 {
		t.Errorf("dependents = %v", dependents)
	}
}

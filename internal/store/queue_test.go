package store

import (
	"testing"

	"cogkernel/internal/types"
)

func queuedChunk(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.Ingest(testChunk(id, id+".go", "content of "+id)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
}

func TestClaimEmbeddingIsExclusive(t *testing.T) {
	s := newTestStore(t)
	queuedChunk(t, s, "c1")

	won, err := s.ClaimEmbedding("c1")
	if err != nil {
		t.Fatalf("ClaimEmbedding: %v", err)
	}
	if !won {
		t.Fatal("first claim lost")
	}

	won, err = s.ClaimEmbedding("c1")
	if err != nil {
		t.Fatalf("second ClaimEmbedding: %v", err)
	}
	if won {
		t.Error("second claim won a processing entry")
	}

	entry, _ := s.GetQueueEntry("c1")
	if entry.Status != types.QueueProcessing {
		t.Errorf("status = %s, want processing", entry.Status)
	}
}

func TestCompleteEmbeddingIsAtomic(t *testing.T) {
	s := newTestStore(t)
	queuedChunk(t, s, "c1")

	if _, err := s.ClaimEmbedding("c1"); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteEmbedding("c1", []float32{0.1, 0.2}); err != nil {
		t.Fatalf("CompleteEmbedding: %v", err)
	}

	if entry, _ := s.GetQueueEntry("c1"); entry != nil {
		t.Error("queue entry survived completion")
	}
	got, _ := s.GetChunk("c1")
	if got == nil || len(got.Vector) != 2 {
		t.Errorf("vector not persisted: %+v", got)
	}

	// An empty vector must never delete the queue entry.
	queuedChunk(t, s, "c2")
	if err := s.CompleteEmbedding("c2", nil); err == nil {
		t.Error("expected error for empty vector")
	}
	if entry, _ := s.GetQueueEntry("c2"); entry == nil {
		t.Error("queue entry deleted despite empty vector")
	}

	// A chunk deleted mid-flight fails the completion.
	if err := s.DeleteChunk("c2"); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteEmbedding("c2", []float32{1}); err == nil {
		t.Error("expected error for vanished chunk")
	}
}

func TestFailEmbeddingRetryBudget(t *testing.T) {
	s := newTestStore(t)
	queuedChunk(t, s, "c1")

	for i := 1; i <= types.MaxEmbedRetries; i++ {
		status, err := s.FailEmbedding("c1")
		if err != nil {
			t.Fatalf("FailEmbedding %d: %v", i, err)
		}
		if status != types.QueuePending {
			t.Fatalf("attempt %d: status = %s, want pending", i, status)
		}
		entry, _ := s.GetQueueEntry("c1")
		if entry.Retries != i {
			t.Fatalf("attempt %d: retries = %d", i, entry.Retries)
		}
	}

	status, err := s.FailEmbedding("c1")
	if err != nil {
		t.Fatalf("final FailEmbedding: %v", err)
	}
	if status != types.QueueFailed {
		t.Errorf("status = %s, want terminal failed", status)
	}

	// Terminal entries are ignored by the poll.
	if next, _ := s.NextPendingEmbedding(); next != nil {
		t.Errorf("NextPendingEmbedding returned %+v for a failed-only queue", next)
	}
}

func TestReleaseEmbeddingKeepsRetries(t *testing.T) {
	s := newTestStore(t)
	queuedChunk(t, s, "c1")

	if _, err := s.ClaimEmbedding("c1"); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseEmbedding("c1"); err != nil {
		t.Fatalf("ReleaseEmbedding: %v", err)
	}

	entry, _ := s.GetQueueEntry("c1")
	if entry.Status != types.QueuePending || entry.Retries != 0 {
		t.Errorf("entry = %+v, want pending with zero retries", entry)
	}
}

func TestNextPendingEmbeddingOldestFirst(t *testing.T) {
	s := newTestStore(t)
	queuedChunk(t, s, "c1")
	queuedChunk(t, s, "c2")

	entry, err := s.NextPendingEmbedding()
	if err != nil {
		t.Fatalf("NextPendingEmbedding: %v", err)
	}
	if entry == nil || entry.ChunkID != "c1" {
		t.Errorf("entry = %+v, want oldest (c1)", entry)
	}
}

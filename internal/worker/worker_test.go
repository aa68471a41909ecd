package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cogkernel/internal/embedding"
	"cogkernel/internal/store"
	"cogkernel/internal/types"
)

// stubEngine embeds deterministically and can be flipped into failure
// modes mid-test.
type stubEngine struct {
	calls   int
	healthy bool
	fail    error
}

func (e *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *stubEngine) HealthCheck(ctx context.Context) error {
	if !e.healthy {
		return fmt.Errorf("stub offline")
	}
	return nil
}

func (e *stubEngine) Dimensions() int { return 2 }
func (e *stubEngine) Name() string    { return "stub" }

func newQueuedStore(t *testing.T, ids ...string) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for _, id := range ids {
		err := s.Ingest(&types.ChunkCard{
			ID:        id,
			FilePath:  id + ".go",
			ChunkType: types.ChunkSummary,
			Content:   "content of " + id,
		})
		if err != nil {
			t.Fatalf("Ingest %s: %v", id, err)
		}
	}
	return s
}

func TestStepEmbedsOneEntryPerCycle(t *testing.T) {
	s := newQueuedStore(t, "c1", "c2", "c3")
	engine := &stubEngine{healthy: true}
	w := New(s, engine, time.Second)

	// One cycle, one entry.
	if !w.Step(context.Background()) {
		t.Fatal("first cycle processed nothing")
	}
	if engine.calls != 1 {
		t.Fatalf("embed called %d times in one cycle, want 1", engine.calls)
	}

	for w.Step(context.Background()) {
	}

	counts, _ := s.QueueCounts()
	if len(counts) != 0 {
		t.Errorf("queue not empty: %v", counts)
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		chunk, _ := s.GetChunk(id)
		if len(chunk.Vector) != 2 {
			t.Errorf("chunk %s not embedded", id)
		}
	}
}

func TestStepSkipsCycleWhenUnhealthy(t *testing.T) {
	s := newQueuedStore(t, "c1")
	engine := &stubEngine{healthy: false}
	w := New(s, engine, time.Second)

	if w.Step(context.Background()) {
		t.Fatal("processed an entry with an offline provider")
	}
	if engine.calls != 0 {
		t.Errorf("embed called %d times despite failed health probe", engine.calls)
	}
	entry, _ := s.GetQueueEntry("c1")
	if entry.Status != types.QueuePending || entry.Retries != 0 {
		t.Errorf("entry = %+v, want untouched", entry)
	}
}

func TestUnavailableMidFlightReleasesClaim(t *testing.T) {
	s := newQueuedStore(t, "c1")
	engine := &stubEngine{
		healthy: true,
		fail:    fmt.Errorf("embed: %w", embedding.ErrUnavailable),
	}
	w := New(s, engine, time.Second)

	if w.Step(context.Background()) {
		t.Fatal("a mid-embed outage counted as processed")
	}

	// The claim is released without consuming a retry.
	entry, _ := s.GetQueueEntry("c1")
	if entry.Status != types.QueuePending || entry.Retries != 0 {
		t.Errorf("entry = %+v, want pending with zero retries", entry)
	}
}

func TestContentFailureExhaustsRetryBudget(t *testing.T) {
	s := newQueuedStore(t, "c1")
	engine := &stubEngine{healthy: true, fail: fmt.Errorf("model rejected input")}
	w := New(s, engine, time.Second)

	// Each cycle re-attempts the entry until the budget runs out and the
	// entry turns terminal.
	for i := 0; i <= types.MaxEmbedRetries; i++ {
		if !w.Step(context.Background()) {
			t.Fatalf("attempt %d not processed", i+1)
		}
	}

	entry, _ := s.GetQueueEntry("c1")
	if entry.Status != types.QueueFailed {
		t.Errorf("status = %s, want terminal failed", entry.Status)
	}

	// A terminal entry is never retried on later cycles.
	engine.calls = 0
	if w.Step(context.Background()) {
		t.Error("processed work from a terminally failed queue")
	}
	if engine.calls != 0 {
		t.Error("embed called for a terminal entry")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	s := newQueuedStore(t, "c1")
	engine := &stubEngine{healthy: true}
	w := New(s, engine, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let at least one cycle happen, then stop.
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}

	if chunk, _ := s.GetChunk("c1"); len(chunk.Vector) == 0 {
		t.Error("no embedding happened before cancel")
	}
}

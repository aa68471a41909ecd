// Package worker services the embedding queue. One worker processes one
// entry per poll tick: claim, embed, write the vector and drop the queue
// row in a single store transaction. Provider outages release the claim
// without consuming a retry; real embedding failures count against the
// retry budget.
package worker

import (
	"context"
	"time"

	"cogkernel/internal/embedding"
	"cogkernel/internal/logging"
	"cogkernel/internal/store"
)

// Worker polls the embedding queue and fills chunk vectors.
type Worker struct {
	store  *store.Store
	engine embedding.Engine
	poll   time.Duration
}

// New builds a queue worker. Poll intervals at or below zero fall back to
// five seconds.
func New(st *store.Store, engine embedding.Engine, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{store: st, engine: engine, poll: poll}
}

// Run polls until the context is cancelled. Each tick handles at most one
// queue entry, so provider load is paced by the poll interval regardless
// of backlog depth. Cancellation is the only way out; the error is always
// ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	logging.Queue("embedding worker started (engine %s, poll %s)", w.engine.Name(), w.poll)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		w.Step(ctx)
		select {
		case <-ctx.Done():
			logging.Queue("embedding worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step claims and embeds at most one pending entry, reporting whether one
// was processed. A failing health probe skips the cycle rather than
// burning a retry on a provider that is down.
func (w *Worker) Step(ctx context.Context) bool {
	if hc, ok := w.engine.(embedding.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			logging.QueueDebug("embedding provider unavailable, skipping cycle: %v", err)
			return false
		}
	}

	processed, err := w.processOne(ctx)
	if err != nil {
		if embedding.IsUnavailable(err) {
			logging.Queue("embedding provider went away mid-embed: %v", err)
		} else {
			logging.Get(logging.CategoryQueue).Error("queue processing error: %v", err)
		}
		return false
	}
	return processed
}

// processOne claims and embeds the oldest pending entry. Returns false
// when the queue had nothing pending or the claim was lost to another
// worker.
func (w *Worker) processOne(ctx context.Context) (bool, error) {
	entry, err := w.store.NextPendingEmbedding()
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	won, err := w.store.ClaimEmbedding(entry.ChunkID)
	if err != nil {
		return false, err
	}
	if !won {
		// Another worker claimed it between the select and the update.
		return false, nil
	}

	timer := logging.StartTimer(logging.CategoryQueue, "Embed "+entry.ChunkID)
	vec, err := w.engine.Embed(ctx, entry.Text)
	timer.Stop()

	if err != nil {
		if embedding.IsUnavailable(err) {
			// Not the entry's fault: release without consuming a retry.
			if relErr := w.store.ReleaseEmbedding(entry.ChunkID); relErr != nil {
				return false, relErr
			}
			return false, err
		}
		status, failErr := w.store.FailEmbedding(entry.ChunkID)
		if failErr != nil {
			return false, failErr
		}
		logging.Queue("embedding of chunk %s failed (now %s): %v", entry.ChunkID, status, err)
		return true, nil
	}

	if err := w.store.CompleteEmbedding(entry.ChunkID, vec); err != nil {
		return false, err
	}
	logging.QueueDebug("embedded chunk %s (%d dims)", entry.ChunkID, len(vec))
	return true, nil
}

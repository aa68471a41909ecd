package store

import (
	"database/sql"
	"fmt"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// Embedding queue state machine:
//
//	pending -> processing -> (row deleted)        success
//	                      -> pending, retries+1   transient failure
//	                      -> failed               retries exhausted, terminal
//
// The worker claims one entry at a time, oldest first.

// NextPendingEmbedding returns the oldest pending queue entry, or nil when
// the queue has no pending work.
func (s *Store) NextPendingEmbedding() (*types.EmbeddingQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e types.EmbeddingQueueEntry
	var status string
	err := s.db.QueryRow(
		`SELECT chunk_id, text, status, retries, created_at
		 FROM embedding_queue WHERE status = 'pending'
		 ORDER BY created_at ASC, chunk_id ASC LIMIT 1`,
	).Scan(&e.ChunkID, &e.Text, &status, &e.Retries, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to poll embedding queue: %w", err)
	}
	e.Status = types.QueueStatus(status)
	return &e, nil
}

// ClaimEmbedding moves an entry from pending to processing. The conditional
// update means a second worker polling the same queue cannot claim the same
// entry; the return value reports whether this caller won.
func (s *Store) ClaimEmbedding(chunkID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE embedding_queue SET status = 'processing' WHERE chunk_id = ? AND status = 'pending'",
		chunkID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim embedding entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteEmbedding persists the vector on the chunk and deletes the queue
// entry in one transaction: an entry is never deleted without its vector
// being durable, and vice versa.
func (s *Store) CompleteEmbedding(chunkID string, vector []float32) error {
	timer := logging.StartTimer(logging.CategoryStore, "CompleteEmbedding")
	defer timer.Stop()

	if len(vector) == 0 {
		return fmt.Errorf("refusing to complete embedding with empty vector")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin embedding transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE chunks SET embedding = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		encodeVector(vector), chunkID,
	)
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s no longer exists", chunkID)
	}

	if _, err := tx.Exec("DELETE FROM embedding_queue WHERE chunk_id = ?", chunkID); err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embedding: %w", err)
	}

	logging.QueueDebug("Embedded chunk %s (%d dims)", chunkID, len(vector))
	return nil
}

// FailEmbedding records a content-level provider failure. Under the retry
// budget the entry returns to pending with retries incremented; past it the
// entry becomes terminally failed and is never retried automatically.
func (s *Store) FailEmbedding(chunkID string) (types.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retries int
	err := s.db.QueryRow("SELECT retries FROM embedding_queue WHERE chunk_id = ?", chunkID).Scan(&retries)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("queue entry %s not found", chunkID)
	}
	if err != nil {
		return "", err
	}

	if retries >= types.MaxEmbedRetries {
		if _, err := s.db.Exec(
			"UPDATE embedding_queue SET status = 'failed' WHERE chunk_id = ?", chunkID,
		); err != nil {
			return "", fmt.Errorf("failed to mark entry failed: %w", err)
		}
		logging.Queue("Embedding for chunk %s failed terminally after %d retries", chunkID, retries)
		return types.QueueFailed, nil
	}

	if _, err := s.db.Exec(
		"UPDATE embedding_queue SET status = 'pending', retries = retries + 1 WHERE chunk_id = ?",
		chunkID,
	); err != nil {
		return "", fmt.Errorf("failed to requeue entry: %w", err)
	}
	logging.QueueDebug("Requeued chunk %s (retry %d)", chunkID, retries+1)
	return types.QueuePending, nil
}

// ReleaseEmbedding returns a processing entry to pending without counting a
// retry. Used when the provider went away mid-flight.
func (s *Store) ReleaseEmbedding(chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE embedding_queue SET status = 'pending' WHERE chunk_id = ? AND status = 'processing'",
		chunkID,
	)
	return err
}

// QueueCounts returns entry counts by status.
func (s *Store) QueueCounts() (map[types.QueueStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM embedding_queue GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.QueueStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err == nil {
			counts[types.QueueStatus(status)] = n
		}
	}
	return counts, nil
}

// GetQueueEntry loads one queue entry by chunk id, or nil.
func (s *Store) GetQueueEntry(chunkID string) (*types.EmbeddingQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e types.EmbeddingQueueEntry
	var status string
	err := s.db.QueryRow(
		"SELECT chunk_id, text, status, retries, created_at FROM embedding_queue WHERE chunk_id = ?",
		chunkID,
	).Scan(&e.ChunkID, &e.Text, &status, &e.Retries, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = types.QueueStatus(status)
	return &e, nil
}

package store

import (
	"fmt"
	"time"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// RegisterWorker records a supervisor process in the worker registry.
func (s *Store) RegisterWorker(pid int, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO workers (pid, run_id, last_heartbeat, status)
		 VALUES (?, ?, CURRENT_TIMESTAMP, 'alive')
		 ON CONFLICT(run_id) DO UPDATE SET
		   pid = excluded.pid, last_heartbeat = CURRENT_TIMESTAMP, status = 'alive'`,
		pid, runID,
	); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	logging.Jobs("Registered worker run=%s pid=%d", runID, pid)
	return nil
}

// Heartbeat refreshes the worker's liveness timestamp. Called on a fixed
// interval independent of job activity.
func (s *Store) Heartbeat(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE workers SET last_heartbeat = CURRENT_TIMESTAMP, status = 'alive' WHERE run_id = ?",
		runID,
	)
	return err
}

// TerminateWorker marks a worker as cleanly shut down.
func (s *Store) TerminateWorker(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE workers SET status = 'terminated' WHERE run_id = ?", runID,
	)
	return err
}

// ListWorkers returns registry entries. Staleness is computed from the
// heartbeat age, never trusted from the row itself.
func (s *Store) ListWorkers(staleAfter time.Duration) ([]types.WorkerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT pid, run_id, last_heartbeat, status FROM workers ORDER BY last_heartbeat DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cutoff := time.Now().UTC().Add(-staleAfter)
	var out []types.WorkerEntry
	for rows.Next() {
		var w types.WorkerEntry
		var status string
		if err := rows.Scan(&w.PID, &w.RunID, &w.LastHeartbeat, &status); err != nil {
			continue
		}
		w.Status = types.WorkerStatus(status)
		if w.Status == types.WorkerAlive && w.LastHeartbeat.Before(cutoff) {
			w.Status = types.WorkerStale
		}
		out = append(out, w)
	}
	return out, nil
}

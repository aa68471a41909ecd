package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"cogkernel/internal/types"
)

// AppendTrace records one kernel-wrapped call in the append-only trace log
// and returns the trace id, usable as blackboard evidence.
func (s *Store) AppendTrace(t *types.TraceArtifact) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO traces (id, tool_invocation, inputs, outputs, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Tool, t.Inputs, t.Outputs, t.DurationMS, t.Timestamp,
	); err != nil {
		return "", fmt.Errorf("failed to append trace: %w", err)
	}
	return t.ID, nil
}

// TraceExists reports whether a trace id is on record.
func (s *Store) TraceExists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM traces WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTraces returns recent traces, newest first, optionally filtered by
// tool name.
func (s *Store) ListTraces(tool string, limit int) ([]types.TraceArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, tool_invocation, inputs, outputs, duration_ms, timestamp FROM traces ORDER BY timestamp DESC LIMIT ?"
	args := []interface{}{limit}
	if tool != "" {
		query = "SELECT id, tool_invocation, inputs, outputs, duration_ms, timestamp FROM traces WHERE tool_invocation = ? ORDER BY timestamp DESC LIMIT ?"
		args = []interface{}{tool, limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TraceArtifact
	for rows.Next() {
		var t types.TraceArtifact
		if err := rows.Scan(&t.ID, &t.Tool, &t.Inputs, &t.Outputs, &t.DurationMS, &t.Timestamp); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// PruneTraces removes traces older than the retention window. Housekeeping
// only; callers decide the policy.
func (s *Store) PruneTraces(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// timestamp rows come from CURRENT_TIMESTAMP, so the cutoff is bound
	// in the same text layout to keep the comparison well defined.
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := s.db.Exec("DELETE FROM traces WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

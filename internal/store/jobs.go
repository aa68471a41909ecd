package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// EnqueueJob creates a pending background job and returns its id.
func (s *Store) EnqueueJob(jobType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if _, err := s.db.Exec(
		"INSERT INTO jobs (id, type, status) VALUES (?, ?, 'pending')",
		id, jobType,
	); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	logging.Jobs("Enqueued %s job %s", jobType, id)
	return id, nil
}

// ClaimOldestPendingJob atomically claims the oldest pending job for the
// given run. The conditional update is the whole claim protocol: two
// supervisors polling the same queue race on the UPDATE and exactly one
// sees a row affected, so a job can never run twice.
func (s *Store) ClaimOldestPendingJob(runID string) (*types.BackgroundJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		var id string
		err := s.db.QueryRow(
			"SELECT id FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, id ASC LIMIT 1",
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to poll jobs: %w", err)
		}

		res, err := s.db.Exec(
			`UPDATE jobs SET status = 'running', owner_run = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = 'pending'`,
			runID, id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another supervisor won this job; try the next oldest.
			continue
		}
		return s.getJob(id)
	}
}

// UpdateJobProgress records incremental progress, clamped to 0-100.
func (s *Store) UpdateJobProgress(jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE jobs SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		progress, jobID,
	)
	return err
}

// CompleteJob marks a job completed with full progress and a result.
func (s *Store) CompleteJob(jobID, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE jobs SET status = 'completed', progress = 100, result = ?,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		result, jobID,
	)
	if err == nil {
		logging.Jobs("Job %s completed", jobID)
	}
	return err
}

// FailJob marks a job failed with the error recorded.
func (s *Store) FailJob(jobID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE jobs SET status = 'failed', error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		errMsg, jobID,
	)
	if err == nil {
		logging.Jobs("Job %s failed: %s", jobID, errMsg)
	}
	return err
}

// RequeueJob returns a running job to the pending queue, clearing its
// owner. Used when the owning worker's heartbeat goes stale.
func (s *Store) RequeueJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'pending', owner_run = '', progress = 0,
		 updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'running'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Jobs("Job %s requeued after worker loss", jobID)
	}
	return nil
}

// GetJob loads one job, or nil.
func (s *Store) GetJob(jobID string) (*types.BackgroundJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getJob(jobID)
}

func (s *Store) getJob(jobID string) (*types.BackgroundJob, error) {
	var j types.BackgroundJob
	var status string
	var result, errMsg, ownerRun sql.NullString
	err := s.db.QueryRow(
		`SELECT id, type, status, progress, result, error, owner_run, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID,
	).Scan(&j.ID, &j.Type, &status, &j.Progress, &result, &errMsg, &ownerRun, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	j.Status = types.JobStatus(status)
	j.Result = result.String
	j.Error = errMsg.String
	j.OwnerRun = ownerRun.String
	return &j, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(status types.JobStatus, limit int) ([]types.BackgroundJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, type, status, progress, result, error, owner_run, created_at, updated_at
	          FROM jobs ORDER BY created_at DESC LIMIT ?`
	args := []interface{}{limit}
	if status != "" {
		query = `SELECT id, type, status, progress, result, error, owner_run, created_at, updated_at
		         FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{string(status), limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.BackgroundJob
	for rows.Next() {
		var j types.BackgroundJob
		var st string
		var result, errMsg, ownerRun sql.NullString
		if err := rows.Scan(&j.ID, &j.Type, &st, &j.Progress, &result, &errMsg, &ownerRun, &j.CreatedAt, &j.UpdatedAt); err != nil {
			continue
		}
		j.Status = types.JobStatus(st)
		j.Result = result.String
		j.Error = errMsg.String
		j.OwnerRun = ownerRun.String
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// AbandonedJobs returns running jobs whose owning worker has not sent a
// heartbeat within staleAfter. The kernel reports these for operational
// tooling; it does not reclaim them itself.
func (s *Store) AbandonedJobs(staleAfter time.Duration) ([]types.BackgroundJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// last_heartbeat rows come from CURRENT_TIMESTAMP; bind the cutoff in
	// the same text layout.
	cutoff := time.Now().UTC().Add(-staleAfter).Format("2006-01-02 15:04:05")
	rows, err := s.db.Query(
		`SELECT j.id, j.type, j.status, j.progress, j.result, j.error, j.owner_run, j.created_at, j.updated_at
		 FROM jobs j
		 LEFT JOIN workers w ON w.run_id = j.owner_run
		 WHERE j.status = 'running'
		   AND (w.run_id IS NULL OR w.status = 'terminated' OR w.last_heartbeat < ?)`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.BackgroundJob
	for rows.Next() {
		var j types.BackgroundJob
		var st string
		var result, errMsg, ownerRun sql.NullString
		if err := rows.Scan(&j.ID, &j.Type, &st, &j.Progress, &result, &errMsg, &ownerRun, &j.CreatedAt, &j.UpdatedAt); err != nil {
			continue
		}
		j.Status = types.JobStatus(st)
		j.Result = result.String
		j.Error = errMsg.String
		j.OwnerRun = ownerRun.String
		jobs = append(jobs, j)
	}
	return jobs, nil
}

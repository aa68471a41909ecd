package store

import (
	"database/sql"
	"fmt"
	"time"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// AcquireLock takes the advisory lock on a resource for an agent. First
// writer wins; re-acquiring a lock already held by the same agent refreshes
// its lease. A lock whose lease expired is treated as free. Returns whether
// the caller now holds the lock.
func (s *Store) AcquireLock(resourceID, agent string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	expires := now.Add(ttl)

	// Reap an expired lease first so the insert below can win.
	if _, err := s.db.Exec(
		"DELETE FROM locks WHERE resource_id = ? AND expires_at IS NOT NULL AND expires_at < ?",
		resourceID, now,
	); err != nil {
		return false, fmt.Errorf("failed to reap expired lock: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO locks (resource_id, owner_agent, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(resource_id) DO UPDATE SET expires_at = excluded.expires_at
		 WHERE locks.owner_agent = excluded.owner_agent`,
		resourceID, agent, now, expires,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		logging.StoreDebug("Lock %s acquired by %s", resourceID, agent)
		return true, nil
	}
	return false, nil
}

// ReleaseLock releases a lock if the caller owns it. Releasing a lock not
// held, or held by someone else, reports false without error.
func (s *Store) ReleaseLock(resourceID, agent string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM locks WHERE resource_id = ? AND owner_agent = ?",
		resourceID, agent,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LockHolder returns the current live lock on a resource, or nil when the
// resource is free (including when only an expired lease remains).
func (s *Store) LockHolder(resourceID string) (*types.ResourceLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l types.ResourceLock
	var expires sql.NullTime
	err := s.db.QueryRow(
		"SELECT resource_id, owner_agent, acquired_at, expires_at FROM locks WHERE resource_id = ?",
		resourceID,
	).Scan(&l.ResourceID, &l.OwnerAgent, &l.AcquiredAt, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		l.ExpiresAt = expires.Time
		if l.ExpiresAt.Before(time.Now().UTC()) {
			return nil, nil
		}
	}
	return &l, nil
}

// ListLocks returns all live locks.
func (s *Store) ListLocks() ([]types.ResourceLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT resource_id, owner_agent, acquired_at, expires_at FROM locks ORDER BY acquired_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []types.ResourceLock
	for rows.Next() {
		var l types.ResourceLock
		var expires sql.NullTime
		if err := rows.Scan(&l.ResourceID, &l.OwnerAgent, &l.AcquiredAt, &expires); err != nil {
			continue
		}
		if expires.Valid {
			l.ExpiresAt = expires.Time
			if l.ExpiresAt.Before(now) {
				continue
			}
		}
		out = append(out, l)
	}
	return out, nil
}

// SweepExpiredLocks deletes leases past their expiry, returning the count.
func (s *Store) SweepExpiredLocks() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM locks WHERE expires_at IS NOT NULL AND expires_at < ?",
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Swept %d expired locks", n)
	}
	return n, nil
}

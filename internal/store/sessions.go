package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// Legal session transitions. Anything not listed is rejected.
var sessionTransitions = map[types.SessionStatus][]types.SessionStatus{
	types.SessionActive:     {types.SessionValidating, types.SessionAborted},
	types.SessionValidating: {types.SessionFinalized, types.SessionAborted},
}

// StartSession opens a change session against a base revision and returns
// the opaque token that mutation-class operations must present.
func (s *Store) StartSession(intent, baseCommit string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	expires := time.Now().UTC().Add(ttl)
	if _, err := s.db.Exec(
		`INSERT INTO sessions (token, intent, base_commit, status, expires_at)
		 VALUES (?, ?, ?, 'active', ?)`,
		token, intent, baseCommit, expires,
	); err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	logging.Get(logging.CategorySession).Info("session %s started (base %s)", token, baseCommit)
	return token, nil
}

// GetSession loads a session by token, or nil. An expired session still in
// active state is reported as aborted.
func (s *Store) GetSession(token string) (*types.ChangeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSession(token)
}

func (s *Store) getSession(token string) (*types.ChangeSession, error) {
	var sess types.ChangeSession
	var status, files, patches string
	var expires sql.NullTime
	err := s.db.QueryRow(
		`SELECT token, intent, base_commit, status, files_touched, patch_ids, created_at, expires_at
		 FROM sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.Intent, &sess.BaseCommit, &status, &files, &patches, &sess.CreatedAt, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.Status = types.SessionStatus(status)
	if err := json.Unmarshal([]byte(files), &sess.FilesTouched); err != nil {
		logging.Get(logging.CategorySession).Warn("session %s has corrupt files payload: %v", token, err)
	}
	if err := json.Unmarshal([]byte(patches), &sess.PatchIDs); err != nil {
		logging.Get(logging.CategorySession).Warn("session %s has corrupt patch payload: %v", token, err)
	}
	if expires.Valid {
		sess.ExpiresAt = expires.Time
		if sess.Status == types.SessionActive && sess.ExpiresAt.Before(time.Now().UTC()) {
			sess.Status = types.SessionAborted
		}
	}
	return &sess, nil
}

// LiveSession returns the session only if it is active and unexpired.
// This is the check mutation-class operations gate on.
func (s *Store) LiveSession(token string) (*types.ChangeSession, error) {
	sess, err := s.GetSession(token)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Status != types.SessionActive {
		return nil, nil
	}
	return sess, nil
}

// TransitionSession moves a session along the legal lifecycle:
// active -> validating -> finalized, with abort allowed before finalize.
func (s *Store) TransitionSession(token string, to types.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getSession(token)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", token)
	}

	allowed := false
	for _, next := range sessionTransitions[sess.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal session transition %s -> %s", sess.Status, to)
	}

	if _, err := s.db.Exec(
		"UPDATE sessions SET status = ? WHERE token = ?", string(to), token,
	); err != nil {
		return fmt.Errorf("failed to transition session: %w", err)
	}
	logging.Get(logging.CategorySession).Info("session %s: %s -> %s", token, sess.Status, to)
	return nil
}

// TouchSessionFiles records files a session has mutated.
func (s *Store) TouchSessionFiles(token string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getSession(token)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", token)
	}

	seen := make(map[string]bool, len(sess.FilesTouched))
	for _, p := range sess.FilesTouched {
		seen[p] = true
	}
	for _, p := range paths {
		if !seen[p] {
			sess.FilesTouched = append(sess.FilesTouched, p)
			seen[p] = true
		}
	}

	data, err := json.Marshal(sess.FilesTouched)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("UPDATE sessions SET files_touched = ? WHERE token = ?", string(data), token)
	return err
}

// AttachPatch records a patch id produced within a session.
func (s *Store) AttachPatch(token, patchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getSession(token)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", token)
	}

	sess.PatchIDs = append(sess.PatchIDs, patchID)
	data, err := json.Marshal(sess.PatchIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("UPDATE sessions SET patch_ids = ? WHERE token = ?", string(data), token)
	return err
}

// SweepExpiredSessions aborts active sessions past their lease.
func (s *Store) SweepExpiredSessions() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sessions SET status = 'aborted'
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategorySession).Info("aborted %d expired sessions", n)
	}
	return n, nil
}

package store

import (
	"database/sql"
	"fmt"

	"cogkernel/internal/types"
)

// GetOrCreateAgent loads an agent profile, creating a fresh one at the
// entry MMR when none exists. Rank is derived by the policy engine, never
// stored.
func (s *Store) GetOrCreateAgent(agentID string) (*types.AgentProfile, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT INTO agents (agent_id) VALUES (?) ON CONFLICT(agent_id) DO NOTHING",
		agentID,
	); err != nil {
		return nil, fmt.Errorf("failed to create agent profile: %w", err)
	}
	return s.getAgent(agentID)
}

// GetAgent loads an agent profile, or nil.
func (s *Store) GetAgent(agentID string) (*types.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAgent(agentID)
}

func (s *Store) getAgent(agentID string) (*types.AgentProfile, error) {
	var p types.AgentProfile
	var probation int
	err := s.db.QueryRow(
		"SELECT agent_id, mmr, streak, probation, updated_at FROM agents WHERE agent_id = ?",
		agentID,
	).Scan(&p.AgentID, &p.MMR, &p.Streak, &probation, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent profile: %w", err)
	}
	p.Probation = probation != 0
	return &p, nil
}

// SaveAgent persists an updated profile.
func (s *Store) SaveAgent(p *types.AgentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	probation := 0
	if p.Probation {
		probation = 1
	}
	_, err := s.db.Exec(
		`UPDATE agents SET mmr = ?, streak = ?, probation = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE agent_id = ?`,
		p.MMR, p.Streak, probation, p.AgentID,
	)
	if err != nil {
		return fmt.Errorf("failed to save agent profile: %w", err)
	}
	return nil
}

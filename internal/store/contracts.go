package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// RegisterContract stores a reactive rule and returns its id.
func (s *Store) RegisterContract(c *types.ReactiveContract) (string, error) {
	if c.TriggerTool == "" || c.TargetTool == "" {
		return "", fmt.Errorf("contract requires trigger and target tools")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	args, err := json.Marshal(c.TargetArgs)
	if err != nil {
		return "", fmt.Errorf("failed to encode target args: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO contracts (id, trigger_tool, trigger_action, target_tool, target_args)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TriggerTool, c.TriggerAction, c.TargetTool, string(args),
	); err != nil {
		return "", fmt.Errorf("failed to register contract: %w", err)
	}

	logging.Get(logging.CategoryContracts).Info("contract %s: %s/%s -> %s",
		c.ID, c.TriggerTool, c.TriggerAction, c.TargetTool)
	return c.ID, nil
}

// MatchContracts returns rules triggered by a completed (tool, action).
// Rows with corrupt argument payloads are skipped and logged.
func (s *Store) MatchContracts(tool, action string) ([]types.ReactiveContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, trigger_tool, trigger_action, target_tool, target_args, created_at
		 FROM contracts WHERE trigger_tool = ? AND trigger_action = ?`,
		tool, action,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ReactiveContract
	for rows.Next() {
		var c types.ReactiveContract
		var args string
		if err := rows.Scan(&c.ID, &c.TriggerTool, &c.TriggerAction, &c.TargetTool, &args, &c.CreatedAt); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(args), &c.TargetArgs); err != nil {
			logging.Get(logging.CategoryContracts).Warn("contract %s has corrupt args, skipping: %v", c.ID, err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ListContracts returns all registered rules.
func (s *Store) ListContracts() ([]types.ReactiveContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, trigger_tool, trigger_action, target_tool, target_args, created_at
		 FROM contracts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ReactiveContract
	for rows.Next() {
		var c types.ReactiveContract
		var args string
		if err := rows.Scan(&c.ID, &c.TriggerTool, &c.TriggerAction, &c.TargetTool, &args, &c.CreatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(args), &c.TargetArgs)
		out = append(out, c)
	}
	return out, nil
}

// DeleteContract removes a rule. Non-existence is not an error.
func (s *Store) DeleteContract(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM contracts WHERE id = ?", id)
	return err
}

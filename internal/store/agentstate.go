package store

import (
	"database/sql"
	"fmt"
)

// Agent-derived state survives process restarts. Keys are namespaced per
// agent; values are opaque to the store.

func (s *Store) SetAgentState(agentID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_state (agent_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		agentID, key, value)
	if err != nil {
		return fmt.Errorf("set agent state: %w", err)
	}
	return nil
}

func (s *Store) GetAgentState(agentID, key string) (string, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM agent_state WHERE agent_id = ? AND key = ?`, agentID, key)
	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get agent state: %w", err)
	}
	return value, true, nil
}

func (s *Store) ListAgentState(agentID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM agent_state WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan agent state: %w", err)
		}
		state[k] = v
	}
	return state, rows.Err()
}

func (s *Store) DeleteAgentState(agentID string) error {
	_, err := s.db.Exec(`DELETE FROM agent_state WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("delete agent state: %w", err)
	}
	return nil
}

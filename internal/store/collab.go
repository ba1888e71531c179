package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type CollabRun struct {
	ID           string          `json:"id"`
	Protocol     string          `json:"protocol"`
	Initiator    string          `json:"initiator"`
	Participants json.RawMessage `json:"participants"`
	Prompt       string          `json:"prompt"`
	Status       string          `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func scanCollabRun(scanner interface {
	Scan(dest ...any) error
}) (*CollabRun, error) {
	r := &CollabRun{}
	var participants string
	var output *string
	err := scanner.Scan(&r.ID, &r.Protocol, &r.Initiator, &participants, &r.Prompt,
		&r.Status, &output, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Participants = json.RawMessage(participants)
	if output != nil {
		r.Output = json.RawMessage(*output)
	}
	return r, nil
}

const collabColumns = `id, protocol, initiator, participants, prompt, status, output, started_at, completed_at`

func (s *Store) SaveCollabRun(r *CollabRun) error {
	_, err := s.db.Exec(`
		INSERT INTO collab_runs (id, protocol, initiator, participants, prompt, status, output)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed')
				THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Protocol, r.Initiator, string(r.Participants), r.Prompt, r.Status, nullableJSON(r.Output))
	if err != nil {
		return fmt.Errorf("save collab run: %w", err)
	}
	return nil
}

func (s *Store) UpdateCollabRun(id, status string, output json.RawMessage) error {
	_, err := s.db.Exec(`
		UPDATE collab_runs
		SET status = ?, output = ?,
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`,
		status, nullableJSON(output), status, id)
	if err != nil {
		return fmt.Errorf("update collab run: %w", err)
	}
	return nil
}

func (s *Store) GetCollabRun(id string) (*CollabRun, error) {
	row := s.db.QueryRow(`SELECT `+collabColumns+` FROM collab_runs WHERE id = ?`, id)
	r, err := scanCollabRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collab run: %w", err)
	}
	return r, nil
}

func (s *Store) ListCollabRuns() ([]CollabRun, error) {
	rows, err := s.db.Query(`SELECT ` + collabColumns + ` FROM collab_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list collab runs: %w", err)
	}
	defer rows.Close()

	var runs []CollabRun
	for rows.Next() {
		r, err := scanCollabRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collab run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

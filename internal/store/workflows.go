package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Workflow struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type WorkflowRun struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	Status       string          `json:"status"`
	CurrentStage string          `json:"current_stage,omitempty"`
	Progress     float64         `json:"progress"`
	Results      json.RawMessage `json:"results,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func (s *Store) SaveWorkflow(w *Workflow) error {
	_, err := s.db.Exec(`
		INSERT INTO workflows (id, name, definition)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = CURRENT_TIMESTAMP`,
		w.ID, w.Name, string(w.Definition))
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(id string) (*Workflow, error) {
	row := s.db.QueryRow(`
		SELECT id, name, definition, created_at, updated_at
		FROM workflows WHERE id = ?`, id)

	w := &Workflow{}
	var def string
	err := row.Scan(&w.ID, &w.Name, &def, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	w.Definition = json.RawMessage(def)
	return w, nil
}

func (s *Store) ListWorkflows() ([]Workflow, error) {
	rows, err := s.db.Query(`
		SELECT id, name, definition, created_at, updated_at
		FROM workflows ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []Workflow
	for rows.Next() {
		w := Workflow{}
		var def string
		if err := rows.Scan(&w.ID, &w.Name, &def, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		w.Definition = json.RawMessage(def)
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

func (s *Store) DeleteWorkflow(id string) error {
	_, err := s.db.Exec(`DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

func scanWorkflowRun(scanner interface {
	Scan(dest ...any) error
}) (*WorkflowRun, error) {
	r := &WorkflowRun{}
	var currentStage, results *string
	err := scanner.Scan(&r.ID, &r.WorkflowID, &r.Status, &currentStage, &r.Progress,
		&results, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if currentStage != nil {
		r.CurrentStage = *currentStage
	}
	if results != nil {
		r.Results = json.RawMessage(*results)
	}
	return r, nil
}

const runColumns = `id, workflow_id, status, current_stage, progress, results, started_at, completed_at`

func (s *Store) SaveWorkflowRun(r *WorkflowRun) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_runs (id, workflow_id, status, current_stage, progress, results)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_stage = excluded.current_stage,
			progress = excluded.progress,
			results = excluded.results,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed', 'stopped')
				THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.WorkflowID, r.Status, r.CurrentStage, r.Progress, nullableJSON(r.Results))
	if err != nil {
		return fmt.Errorf("save workflow run: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflowRun(id string) (*WorkflowRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanWorkflowRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return r, nil
}

func (s *Store) ListWorkflowRuns(workflowID string) ([]WorkflowRun, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+` FROM workflow_runs
		WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		r, err := scanWorkflowRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

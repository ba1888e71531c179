package workflow

import (
	"fmt"
	"log/slog"
	"time"
)

// TaskStatus tracks one task through its lifecycle.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// StageStatus is derived from a stage's flags and its task statuses, never
// stored.
type StageStatus string

const (
	StageNotStarted StageStatus = "not_started"
	StageInProgress StageStatus = "in_progress"
	StageBlocked    StageStatus = "blocked"
	StageCompleted  StageStatus = "completed"
)

// Stage is one node of the workflow graph. NextStages and PreviousStages are
// ordered edge lists; step navigation follows only the first entry of each.
type Stage struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Tasks          []*Task  `json:"tasks,omitempty"`
	NextStages     []string `json:"next_stages,omitempty"`
	PreviousStages []string `json:"previous_stages,omitempty"`
	Started        bool     `json:"started"`
	Completed      bool     `json:"completed"`
}

// Status derives the stage's state: not started until execution touches it,
// completed once the flag is set, blocked while any task is blocked, and in
// progress otherwise.
func (s *Stage) Status() StageStatus {
	if !s.Started {
		return StageNotStarted
	}
	if s.Completed {
		return StageCompleted
	}
	for _, t := range s.Tasks {
		if t.Status == TaskBlocked {
			return StageBlocked
		}
	}
	return StageInProgress
}

// Workflow is a directed acyclic graph of stages. Stage order in Stages is
// the definition order; InitialStage defaults to the first stage.
type Workflow struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Stages       []*Stage `json:"stages"`
	InitialStage string   `json:"initial_stage,omitempty"`
}

func (w *Workflow) Stage(id string) (*Stage, bool) {
	for _, s := range w.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// EntryStage is the configured initial stage, or the first defined stage.
func (w *Workflow) EntryStage() (*Stage, error) {
	if len(w.Stages) == 0 {
		return nil, fmt.Errorf("workflow %s has no stages", w.ID)
	}
	if w.InitialStage == "" {
		return w.Stages[0], nil
	}
	s, ok := w.Stage(w.InitialStage)
	if !ok {
		return nil, fmt.Errorf("initial stage %q not defined", w.InitialStage)
	}
	return s, nil
}

// Validate checks the graph: unique ids, edges resolving to defined stages,
// and no cycles among next edges. Stages with multiple successors are legal
// but step navigation only ever follows the first one, so they get a warning.
func (w *Workflow) Validate() error {
	if len(w.Stages) == 0 {
		return fmt.Errorf("workflow %s has no stages", w.ID)
	}

	seen := make(map[string]bool, len(w.Stages))
	for _, s := range w.Stages {
		if s.ID == "" {
			return fmt.Errorf("stage without id in workflow %s", w.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate stage id %q", s.ID)
		}
		seen[s.ID] = true
	}

	inDegree := make(map[string]int, len(w.Stages))
	for _, s := range w.Stages {
		inDegree[s.ID] = 0
	}
	for _, s := range w.Stages {
		for _, next := range s.NextStages {
			if !seen[next] {
				return fmt.Errorf("stage %q references unknown next stage %q", s.ID, next)
			}
			inDegree[next]++
		}
		for _, prev := range s.PreviousStages {
			if !seen[prev] {
				return fmt.Errorf("stage %q references unknown previous stage %q", s.ID, prev)
			}
		}
		if len(s.NextStages) > 1 {
			slog.Warn("stage has multiple successors; step navigation follows the first",
				"workflow", w.ID, "stage", s.ID, "successors", s.NextStages)
		}
	}

	// Kahn's algorithm over next edges; unprocessed nodes mean a cycle.
	queue := make([]string, 0, len(w.Stages))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		s, _ := w.Stage(id)
		for _, next := range s.NextStages {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed != len(w.Stages) {
		return fmt.Errorf("workflow %s contains a stage cycle", w.ID)
	}

	if _, err := w.EntryStage(); err != nil {
		return err
	}

	return nil
}

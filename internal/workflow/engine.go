package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskRunner executes one task of a stage. The engine treats it as opaque;
// the runner wires it to the agent roster.
type TaskRunner interface {
	RunTask(ctx context.Context, wf *Workflow, stage *Stage, task *Task) (string, error)
}

// TaskRunnerFunc adapts a function to the TaskRunner interface.
type TaskRunnerFunc func(ctx context.Context, wf *Workflow, stage *Stage, task *Task) (string, error)

func (f TaskRunnerFunc) RunTask(ctx context.Context, wf *Workflow, stage *Stage, task *Task) (string, error) {
	return f(ctx, wf, stage, task)
}

// StageReport is the outcome of executing one stage. A failed task does not
// abort the stage; its error lands in Errors and the remaining tasks run.
type StageReport struct {
	StageID        string            `json:"stage_id"`
	Status         StageStatus       `json:"status"`
	CompletedTasks int               `json:"completed_tasks"`
	TotalTasks     int               `json:"total_tasks"`
	Results        map[string]string `json:"results,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"`
}

// Status is a read-only snapshot of workflow progress.
type Status struct {
	WorkflowID      string                 `json:"workflow_id"`
	CurrentStage    string                 `json:"current_stage"`
	CompletedStages int                    `json:"completed_stages"`
	TotalStages     int                    `json:"total_stages"`
	Progress        float64                `json:"progress"`
	StageOrder      []string               `json:"stage_order"`
	Stages          map[string]StageStatus `json:"stages"`
}

// Engine holds one workflow's navigation state and executes its stages.
type Engine struct {
	mu      sync.Mutex
	wf      *Workflow
	current *Stage
	runner  TaskRunner
}

func NewEngine(wf *Workflow, runner TaskRunner) (*Engine, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	entry, err := wf.EntryStage()
	if err != nil {
		return nil, err
	}
	return &Engine{wf: wf, current: entry, runner: runner}, nil
}

func (e *Engine) CurrentStage() *Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// MoveToNextStage steps along the current stage's first next edge. Without a
// next edge the position is unchanged and the failure is reported, never
// applied halfway.
func (e *Engine) MoveToNextStage() (*Stage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.current.NextStages) == 0 {
		return nil, fmt.Errorf("stage %q has no next stage", e.current.ID)
	}
	next, ok := e.wf.Stage(e.current.NextStages[0])
	if !ok {
		return nil, fmt.Errorf("next stage %q not defined", e.current.NextStages[0])
	}
	e.current = next
	return next, nil
}

// MoveToPreviousStage steps back along the first previous edge, mirroring
// MoveToNextStage.
func (e *Engine) MoveToPreviousStage() (*Stage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.current.PreviousStages) == 0 {
		return nil, fmt.Errorf("stage %q has no previous stage", e.current.ID)
	}
	prev, ok := e.wf.Stage(e.current.PreviousStages[0])
	if !ok {
		return nil, fmt.Errorf("previous stage %q not defined", e.current.PreviousStages[0])
	}
	e.current = prev
	return prev, nil
}

// MoveToStage jumps to any defined stage, connected or not.
func (e *Engine) MoveToStage(id string) (*Stage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.wf.Stage(id)
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", id)
	}
	e.current = s
	return s, nil
}

// ExecuteStage runs the current stage's tasks one after another. Task errors
// are isolated: a failed task is marked blocked and recorded, and execution
// continues with the next task. The stage completes only when every task
// finished.
func (e *Engine) ExecuteStage(ctx context.Context) (*StageReport, error) {
	if e.runner == nil {
		return nil, fmt.Errorf("no task runner configured")
	}

	// Stage and task fields are shared with Monitor and StageStatus, so every
	// mutation happens under the lock. The lock is dropped around RunTask; the
	// tasks themselves still run strictly one after another.
	e.mu.Lock()
	stage := e.current
	stage.Started = true
	e.mu.Unlock()

	report := &StageReport{
		StageID:    stage.ID,
		TotalTasks: len(stage.Tasks),
		Results:    make(map[string]string),
		Errors:     make(map[string]string),
	}

	for _, task := range stage.Tasks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		e.mu.Lock()
		task.Status = TaskInProgress
		task.UpdatedAt = time.Now().UTC()
		e.mu.Unlock()

		result, err := e.runner.RunTask(ctx, e.wf, stage, task)

		e.mu.Lock()
		task.UpdatedAt = time.Now().UTC()
		if err != nil {
			task.Status = TaskBlocked
			report.Errors[task.ID] = err.Error()
		} else {
			task.Status = TaskDone
			report.Results[task.ID] = result
			report.CompletedTasks++
		}
		e.mu.Unlock()

		if err != nil {
			slog.Warn("task failed", "workflow", e.wf.ID, "stage", stage.ID, "task", task.ID, "error", err)
		}
	}

	e.mu.Lock()
	switch {
	case report.CompletedTasks == report.TotalTasks:
		stage.Completed = true
		report.Status = StageCompleted
	case len(report.Errors) > 0:
		report.Status = StageBlocked
	default:
		report.Status = StageInProgress
	}
	e.mu.Unlock()

	return report, nil
}

// StageStatus derives the status of one stage by id.
func (e *Engine) StageStatus(id string) (StageStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.wf.Stage(id)
	if !ok {
		return "", fmt.Errorf("unknown stage %q", id)
	}
	return s.Status(), nil
}

// Monitor reports progress without touching any state. Progress is the share
// of completed stages, in percent.
func (e *Engine) Monitor() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		WorkflowID:   e.wf.ID,
		CurrentStage: e.current.ID,
		TotalStages:  len(e.wf.Stages),
		Stages:       make(map[string]StageStatus, len(e.wf.Stages)),
	}
	for _, s := range e.wf.Stages {
		st.StageOrder = append(st.StageOrder, s.ID)
		st.Stages[s.ID] = s.Status()
		if s.Completed {
			st.CompletedStages++
		}
	}
	if st.TotalStages > 0 {
		st.Progress = float64(st.CompletedStages) / float64(st.TotalStages) * 100
	}
	return st
}

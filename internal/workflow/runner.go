package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/natsbus"
	"github.com/softcrew/crewd/internal/store"
)

// runControl steers one in-flight run. stop cancels the run's context;
// paused gates stage boundaries.
type runControl struct {
	cancel context.CancelFunc
	engine *Engine

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

func newRunControl(cancel context.CancelFunc, engine *Engine) *runControl {
	c := &runControl{cancel: cancel, engine: engine}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *runControl) pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *runControl) resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// waitIfPaused blocks at a stage boundary while the run is paused. It
// returns false when the context is cancelled during the wait.
func (c *runControl) waitIfPaused(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused {
		if ctx.Err() != nil {
			return false
		}
		c.cond.Wait()
	}
	return ctx.Err() == nil
}

// Runner executes persisted workflows over the roster. Each run walks the
// stage graph from the entry stage along first next edges, executing every
// stage it passes, and records progress as a workflow run.
type Runner struct {
	store        *store.Store
	client       *natsbus.Client
	roster       *agent.Roster
	defaultAgent string

	mu     sync.Mutex
	active map[string]*runControl
}

func NewRunner(s *store.Store, client *natsbus.Client, roster *agent.Roster, defaultAgent string) *Runner {
	return &Runner{
		store:        s,
		client:       client,
		roster:       roster,
		defaultAgent: defaultAgent,
		active:       make(map[string]*runControl),
	}
}

// Execute starts a run of the stored workflow and returns immediately; the
// run proceeds in the background and is observable through the run record
// and the workflow event topic.
func (r *Runner) Execute(ctx context.Context, workflowID string) (*store.WorkflowRun, error) {
	stored, err := r.store.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("unknown workflow %q", workflowID)
	}

	var wf Workflow
	if err := json.Unmarshal(stored.Definition, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	wf.ID = stored.ID
	if wf.Name == "" {
		wf.Name = stored.Name
	}

	engine, err := NewEngine(&wf, r.taskRunner())
	if err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", workflowID, err)
	}

	run := &store.WorkflowRun{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		Status:       "running",
		CurrentStage: engine.CurrentStage().ID,
	}
	if err := r.store.SaveWorkflowRun(run); err != nil {
		return nil, fmt.Errorf("save workflow run: %w", err)
	}

	// The run must outlive the caller's request context.
	runCtx, cancel := context.WithCancel(context.Background())
	ctl := newRunControl(cancel, engine)
	r.mu.Lock()
	r.active[run.ID] = ctl
	r.mu.Unlock()

	r.publishEvent(run.ID, "workflow_started", map[string]any{"workflow_id": workflowID})

	go r.executeRun(runCtx, ctl, engine, run)

	return run, nil
}

func (r *Runner) executeRun(ctx context.Context, ctl *runControl, engine *Engine, run *store.WorkflowRun) {
	defer func() {
		r.mu.Lock()
		delete(r.active, run.ID)
		r.mu.Unlock()
		ctl.cancel()
	}()

	var reports []*StageReport
	failed := false

	for {
		if !ctl.waitIfPaused(ctx) {
			r.finishRun(run, "stopped", reports, engine)
			return
		}

		stage := engine.CurrentStage()
		slog.Info("executing stage", "run", run.ID, "stage", stage.ID)
		r.publishEvent(run.ID, "stage_started", map[string]any{"stage": stage.ID})

		report, err := engine.ExecuteStage(ctx)
		if err != nil {
			// Context cancellation is the only error path here.
			r.finishRun(run, "stopped", reports, engine)
			return
		}
		reports = append(reports, report)
		if report.Status != StageCompleted {
			failed = true
		}

		r.publishEvent(run.ID, "stage_completed", map[string]any{
			"stage":           stage.ID,
			"status":          report.Status,
			"completed_tasks": report.CompletedTasks,
			"total_tasks":     report.TotalTasks,
		})

		r.persistProgress(run, engine, reports, "running")

		if _, err := engine.MoveToNextStage(); err != nil {
			break
		}
	}

	status := "completed"
	if failed {
		status = "failed"
	}
	r.finishRun(run, status, reports, engine)
}

func (r *Runner) finishRun(run *store.WorkflowRun, status string, reports []*StageReport, engine *Engine) {
	r.persistProgress(run, engine, reports, status)
	r.publishEvent(run.ID, "workflow_"+status, map[string]any{
		"stages": len(reports),
	})
	slog.Info("workflow run finished", "run", run.ID, "status", status)
}

func (r *Runner) persistProgress(run *store.WorkflowRun, engine *Engine, reports []*StageReport, status string) {
	st := engine.Monitor()
	results, _ := json.Marshal(reports)

	run.Status = status
	run.CurrentStage = st.CurrentStage
	run.Progress = st.Progress
	run.Results = results
	if err := r.store.SaveWorkflowRun(run); err != nil {
		slog.Warn("persist workflow run failed", "run", run.ID, "error", err)
	}
}

// taskRunner executes one task by handing it to its assigned agent, or the
// default agent when the task names none.
func (r *Runner) taskRunner() TaskRunner {
	return TaskRunnerFunc(func(ctx context.Context, wf *Workflow, stage *Stage, task *Task) (string, error) {
		agentID := task.AssignedTo
		if agentID == "" {
			agentID = r.defaultAgent
		}
		a, err := r.roster.Get(agentID)
		if err != nil {
			return "", err
		}

		prompt := task.Title
		if task.Description != "" {
			prompt = task.Title + "\n\n" + task.Description
		}

		out, err := a.Process(ctx, agent.Input{
			Prompt:  prompt,
			Context: fmt.Sprintf("Workflow %q, stage %q.", wf.Name, stage.Name),
		})
		if err != nil {
			return "", err
		}
		return out.Response, nil
	})
}

// Pause holds the run at its next stage boundary.
func (r *Runner) Pause(runID string) error {
	ctl, err := r.control(runID)
	if err != nil {
		return err
	}
	ctl.pause()
	r.publishEvent(runID, "workflow_paused", nil)
	return nil
}

func (r *Runner) Resume(runID string) error {
	ctl, err := r.control(runID)
	if err != nil {
		return err
	}
	ctl.resume()
	r.publishEvent(runID, "workflow_resumed", nil)
	return nil
}

// Stop cancels the run. A paused run is released first so it can observe
// the cancellation.
func (r *Runner) Stop(runID string) error {
	ctl, err := r.control(runID)
	if err != nil {
		return err
	}
	ctl.cancel()
	ctl.resume()
	return nil
}

// Status reports the live engine snapshot of an active run.
func (r *Runner) Status(runID string) (Status, error) {
	ctl, err := r.control(runID)
	if err != nil {
		return Status{}, err
	}
	return ctl.engine.Monitor(), nil
}

func (r *Runner) control(runID string) (*runControl, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctl, ok := r.active[runID]
	if !ok {
		return nil, fmt.Errorf("no active run %q", runID)
	}
	return ctl, nil
}

func (r *Runner) publishEvent(runID, eventType string, data map[string]any) {
	if r.client == nil {
		return
	}

	_ = r.client.PublishEvent(natsbus.TopicWorkflowEvents(runID), natsbus.Event{
		Type:  eventType,
		RunID: runID,
		Data:  data,
	})
}

package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/natsbus"
	"github.com/softcrew/crewd/internal/schedule"
	"github.com/softcrew/crewd/internal/store"
	"github.com/softcrew/crewd/internal/workflow"
)

// Scheduler polls for due scheduled runs and triggers the corresponding
// workflows. One-off schedules are marked completed after firing.
type Scheduler struct {
	store        *store.Store
	runner       *workflow.Runner
	client       *natsbus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, runner *workflow.Runner, client *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		client:       client,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Create registers a schedule for a workflow. The raw schedule may be
// schedule JSON or a bare cron expression.
func (s *Scheduler) Create(workflowID, name, rawSchedule string) (*store.ScheduledRun, error) {
	normalized, err := schedule.Normalize(rawSchedule)
	if err != nil {
		return nil, err
	}

	run := &store.ScheduledRun{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Name:       name,
		Schedule:   normalized,
		Status:     "active",
		NextRunAt:  schedule.NextRun(normalized, time.Now()),
	}
	if err := s.store.SaveScheduledRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueScheduledRuns(time.Now())
	if err != nil {
		slog.Error("failed to get due scheduled runs", "error", err)
		return
	}

	for _, r := range due {
		s.trigger(ctx, r)
	}
}

func (s *Scheduler) trigger(ctx context.Context, r store.ScheduledRun) {
	slog.Info("triggering scheduled workflow", "id", r.ID, "name", r.Name, "workflow", r.WorkflowID)

	var lastStatus, lastError string
	if _, err := s.runner.Execute(ctx, r.WorkflowID); err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled workflow failed to start", "id", r.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	nextRun := schedule.NextRun(r.Schedule, time.Now())
	if err := s.store.UpdateScheduledRunResult(r.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled run", "id", r.ID, "error", err)
	}

	s.publishEvent(r, lastStatus)

	if nextRun == nil {
		slog.Info("schedule exhausted, marking completed", "id", r.ID, "name", r.Name)
		if err := s.store.UpdateScheduledRunStatus(r.ID, "completed"); err != nil {
			slog.Error("failed to complete scheduled run", "id", r.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishEvent(r store.ScheduledRun, status string) {
	if s.client == nil {
		return
	}

	_ = s.client.PublishEvent(natsbus.TopicScheduleEvents(), natsbus.Event{
		Type:       "schedule_triggered",
		ScheduleID: r.ID,
		Data: map[string]any{
			"id":       r.ID,
			"name":     r.Name,
			"workflow": r.WorkflowID,
			"status":   status,
		},
	})
}

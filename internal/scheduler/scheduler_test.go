package scheduler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/backend"
	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/store"
	"github.com/softcrew/crewd/internal/workflow"
)

type okBackend struct{}

func (okBackend) Complete(ctx context.Context, prompt string, opts backend.Options) (string, error) {
	return "done", nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()

	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	roster := agent.NewRoster("m", nil, nil, nil)
	if err := roster.Add(agent.New(agent.Config{ID: "dev", Role: agent.RoleDeveloper, Backend: okBackend{}})); err != nil {
		t.Fatalf("add agent: %v", err)
	}
	runner := workflow.NewRunner(s, nil, roster, "dev")

	return New(s, runner, nil, config.SchedulerConfig{PollInterval: time.Second}), s
}

func saveWorkflow(t *testing.T, s *store.Store) {
	t.Helper()
	wf := workflow.Workflow{
		ID:     "wf1",
		Name:   "nightly",
		Stages: []*workflow.Stage{{ID: "only", Name: "Only", Tasks: []*workflow.Task{{ID: "t1", Title: "run"}}}},
	}
	def, _ := json.Marshal(wf)
	if err := s.SaveWorkflow(&store.Workflow{ID: wf.ID, Name: wf.Name, Definition: def}); err != nil {
		t.Fatalf("save workflow: %v", err)
	}
}

func TestCreateNormalizesSchedule(t *testing.T) {
	sched, s := newTestScheduler(t)
	saveWorkflow(t, s)

	run, err := sched.Create("wf1", "nightly", "0 3 * * *")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if run.NextRunAt == nil {
		t.Error("next run not calculated")
	}

	stored, err := s.GetScheduledRun(run.ID)
	if err != nil || stored == nil {
		t.Fatalf("get scheduled run: %v", err)
	}
	if stored.Status != "active" {
		t.Errorf("status = %s, want active", stored.Status)
	}
}

func TestCreateRejectsInvalidSchedule(t *testing.T) {
	sched, _ := newTestScheduler(t)

	if _, err := sched.Create("wf1", "bad", "not a schedule"); err == nil {
		t.Fatal("expected schedule validation error")
	}
}

func TestPollTriggersDueRun(t *testing.T) {
	sched, s := newTestScheduler(t)
	saveWorkflow(t, s)

	past := time.Now().Add(-time.Minute)
	r := &store.ScheduledRun{
		ID:         "sr1",
		WorkflowID: "wf1",
		Name:       "due",
		Schedule:   `{"kind":"interval","interval_ms":3600000}`,
		Status:     "active",
		NextRunAt:  &past,
	}
	if err := s.SaveScheduledRun(r); err != nil {
		t.Fatalf("save scheduled run: %v", err)
	}

	sched.poll(context.Background())

	got, err := s.GetScheduledRun("sr1")
	if err != nil || got == nil {
		t.Fatalf("get scheduled run: %v", err)
	}
	if got.LastStatus != "success" {
		t.Errorf("last status = %q, want success", got.LastStatus)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Error("next run not advanced")
	}

	runs, err := s.ListWorkflowRuns("wf1")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("workflow runs = %d, want 1", len(runs))
	}
}

func TestPollCompletesOneOff(t *testing.T) {
	sched, s := newTestScheduler(t)
	saveWorkflow(t, s)

	past := time.Now().Add(-time.Minute)
	r := &store.ScheduledRun{
		ID:         "sr2",
		WorkflowID: "wf1",
		Name:       "one-off",
		Schedule:   `{"kind":"once","at_ms":` + "1" + `}`,
		Status:     "active",
		NextRunAt:  &past,
	}
	if err := s.SaveScheduledRun(r); err != nil {
		t.Fatalf("save scheduled run: %v", err)
	}

	sched.poll(context.Background())

	got, err := s.GetScheduledRun("sr2")
	if err != nil || got == nil {
		t.Fatalf("get scheduled run: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

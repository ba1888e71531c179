package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/softcrew/crewd/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorkflowCRUD(t *testing.T) {
	s := newTestStore(t)

	def := json.RawMessage(`{"stages":[{"id":"requirements"}]}`)
	w := &Workflow{ID: "wf-1", Name: "Feature build", Definition: def}
	if err := s.SaveWorkflow(w); err != nil {
		t.Fatalf("save workflow: %v", err)
	}

	got, err := s.GetWorkflow("wf-1")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got == nil {
		t.Fatal("expected workflow, got nil")
	}
	if got.Name != "Feature build" {
		t.Errorf("expected name 'Feature build', got %q", got.Name)
	}
	if string(got.Definition) != string(def) {
		t.Errorf("definition round-trip mismatch: %s", got.Definition)
	}

	list, err := s.ListWorkflows()
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 workflow, got %d", len(list))
	}

	w.Name = "Renamed"
	if err := s.SaveWorkflow(w); err != nil {
		t.Fatalf("update workflow: %v", err)
	}
	got, _ = s.GetWorkflow("wf-1")
	if got.Name != "Renamed" {
		t.Errorf("expected updated name, got %q", got.Name)
	}

	if err := s.DeleteWorkflow("wf-1"); err != nil {
		t.Fatalf("delete workflow: %v", err)
	}
	got, _ = s.GetWorkflow("wf-1")
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestWorkflowRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	w := &Workflow{ID: "wf-1", Name: "wf", Definition: json.RawMessage(`{}`)}
	if err := s.SaveWorkflow(w); err != nil {
		t.Fatal(err)
	}

	r := &WorkflowRun{ID: "run-1", WorkflowID: "wf-1", Status: "running", CurrentStage: "design"}
	if err := s.SaveWorkflowRun(r); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, err := s.GetWorkflowRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != "running" || got.CurrentStage != "design" {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("running run should not have completed_at")
	}

	r.Status = "completed"
	r.Progress = 100
	r.Results = json.RawMessage(`{"stages":3}`)
	if err := s.SaveWorkflowRun(r); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	got, _ = s.GetWorkflowRun("run-1")
	if got.Status != "completed" {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("expected progress 100, got %f", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("completed run should have completed_at")
	}

	runs, err := s.ListWorkflowRuns("wf-1")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestCollabRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	r := &CollabRun{
		ID:           "sess-1",
		Protocol:     "parallel",
		Initiator:    "architect",
		Participants: json.RawMessage(`["architect","developer","tester"]`),
		Prompt:       "review the design",
		Status:       "running",
	}
	if err := s.SaveCollabRun(r); err != nil {
		t.Fatalf("save collab run: %v", err)
	}

	if err := s.UpdateCollabRun("sess-1", "failed", nil); err != nil {
		t.Fatalf("update collab run: %v", err)
	}

	got, err := s.GetCollabRun("sess-1")
	if err != nil {
		t.Fatalf("get collab run: %v", err)
	}
	if got.Status != "failed" {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("failed run should have completed_at")
	}
}

func TestAgentState(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetAgentState("developer", "last_summary", "built the parser"); err != nil {
		t.Fatalf("set state: %v", err)
	}

	v, ok, err := s.GetAgentState("developer", "last_summary")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !ok || v != "built the parser" {
		t.Errorf("unexpected state: %q ok=%v", v, ok)
	}

	_, ok, err = s.GetAgentState("developer", "missing")
	if err != nil {
		t.Fatalf("get missing state: %v", err)
	}
	if ok {
		t.Error("expected missing key to report ok=false")
	}

	if err := s.SetAgentState("developer", "last_summary", "updated"); err != nil {
		t.Fatalf("overwrite state: %v", err)
	}
	all, err := s.ListAgentState("developer")
	if err != nil {
		t.Fatalf("list state: %v", err)
	}
	if all["last_summary"] != "updated" {
		t.Errorf("expected overwrite, got %v", all)
	}

	if err := s.DeleteAgentState("developer"); err != nil {
		t.Fatalf("delete state: %v", err)
	}
	all, _ = s.ListAgentState("developer")
	if len(all) != 0 {
		t.Errorf("expected empty state after delete, got %v", all)
	}
}

func TestScheduledRuns(t *testing.T) {
	s := newTestStore(t)

	w := &Workflow{ID: "wf-1", Name: "wf", Definition: json.RawMessage(`{}`)}
	if err := s.SaveWorkflow(w); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &ScheduledRun{ID: "s1", WorkflowID: "wf-1", Name: "nightly", Schedule: `{"kind":"cron","cron_expr":"0 2 * * *"}`, Status: "active", NextRunAt: &past}
	notDue := &ScheduledRun{ID: "s2", WorkflowID: "wf-1", Name: "later", Schedule: `{"kind":"once","at_ms":1}`, Status: "active", NextRunAt: &future}
	for _, r := range []*ScheduledRun{due, notDue} {
		if err := s.SaveScheduledRun(r); err != nil {
			t.Fatalf("save scheduled run: %v", err)
		}
	}

	dueRuns, err := s.GetDueScheduledRuns(time.Now())
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(dueRuns) != 1 || dueRuns[0].ID != "s1" {
		t.Fatalf("expected only s1 due, got %+v", dueRuns)
	}

	if err := s.UpdateScheduledRunResult("s1", "success", "", &future); err != nil {
		t.Fatalf("update result: %v", err)
	}
	got, _ := s.GetScheduledRun("s1")
	if got.LastStatus != "success" {
		t.Errorf("expected last status success, got %s", got.LastStatus)
	}
	if got.LastRunAt == nil {
		t.Error("expected last_run_at set")
	}

	if err := s.UpdateScheduledRunStatus("s2", "completed"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	dueRuns, _ = s.GetDueScheduledRuns(time.Now().Add(2 * time.Hour))
	for _, r := range dueRuns {
		if r.ID == "s2" {
			t.Error("completed schedule should not be due")
		}
	}
}

func TestSecretCRUD(t *testing.T) {
	s := newTestStore(t)

	sec := &Secret{ID: "sec-1", Name: "backend-key", Value: []byte{1, 2, 3}, Nonce: []byte{4, 5, 6}}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("save secret: %v", err)
	}

	// Fetch by name as well as id
	byName, err := s.GetSecret("backend-key")
	if err != nil {
		t.Fatalf("get secret by name: %v", err)
	}
	if byName == nil || byName.ID != "sec-1" {
		t.Fatalf("expected secret by name, got %+v", byName)
	}

	list, err := s.ListSecrets()
	if err != nil {
		t.Fatalf("list secrets: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 secret, got %d", len(list))
	}
	if len(list[0].Value) != 0 {
		t.Error("list must not expose ciphertext")
	}

	if err := s.DeleteSecret("sec-1"); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	got, _ := s.GetSecret("sec-1")
	if got != nil {
		t.Error("expected nil after delete")
	}
}

package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/backend"
)

// scriptedBackend returns canned replies in call order and records every
// prompt it saw.
type scriptedBackend struct {
	mu      sync.Mutex
	replies []string
	err     error
	delay   time.Duration
	prompts []string
}

func (s *scriptedBackend) Complete(ctx context.Context, prompt string, opts backend.Options) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "ok", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *scriptedBackend) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedBackend) prompt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

func newRoster(t *testing.T, backends map[string]*scriptedBackend) *agent.Roster {
	t.Helper()
	r := agent.NewRoster("m", nil, nil, nil)
	for id, b := range backends {
		a := agent.New(agent.Config{ID: id, Name: id, Role: agent.RoleDeveloper, Backend: b})
		if err := r.Add(a); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	return r
}

func TestSequentialRelaysOutput(t *testing.T) {
	backends := map[string]*scriptedBackend{
		"alice": {replies: []string{"alice says hi"}},
		"bob":   {replies: []string{"bob builds on it"}},
	}
	o := New(newRoster(t, backends), nil, nil)

	res, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolSequential,
		Participants: []string{"alice", "bob"},
		Prompt:       "do the thing",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Output != "bob builds on it" {
		t.Errorf("output = %q, want last agent's response", res.Output)
	}
	if !strings.Contains(backends["bob"].prompt(0), "alice says hi") {
		t.Error("second agent did not receive first agent's response")
	}
	if res.Metadata[agent.MetaSessionID] != res.SessionID {
		t.Error("session id missing from accumulated metadata")
	}
	if res.Metadata["agent_id"] != "bob" {
		t.Errorf("metadata agent_id = %v, want bob", res.Metadata["agent_id"])
	}
}

func TestSequentialHopMetadataAndPromptChain(t *testing.T) {
	backends := map[string]*scriptedBackend{
		"alice": {replies: []string{"alice output"}},
		"bob":   {replies: []string{"bob output"}},
		"carol": {replies: []string{"carol output"}},
	}
	o := New(newRoster(t, backends), nil, nil)

	res, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolSequential,
		Participants: []string{"alice", "bob", "carol"},
		Prompt:       "seed instruction",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	bobMeta := res.Outputs[1].Output.Metadata
	if bobMeta[agent.MetaPrevAgent] != "alice" || bobMeta[agent.MetaNextAgent] != "carol" {
		t.Errorf("middle hop metadata = prev %v next %v, want alice/carol",
			bobMeta[agent.MetaPrevAgent], bobMeta[agent.MetaNextAgent])
	}

	carolMeta := res.Outputs[2].Output.Metadata
	if carolMeta[agent.MetaPrevAgent] != "bob" {
		t.Errorf("last hop prev = %v, want bob", carolMeta[agent.MetaPrevAgent])
	}
	if next, ok := carolMeta[agent.MetaNextAgent]; ok {
		t.Errorf("last hop carries next_agent_id=%v, want absent", next)
	}

	// Each hop's instruction is the previous hop's response.
	if !strings.Contains(backends["carol"].prompt(0), "## Instruction\n\nbob output") {
		t.Error("last hop's prompt is not the previous response")
	}
	if !strings.Contains(backends["carol"].prompt(0), "seed instruction") {
		t.Error("seed instruction dropped from later hops")
	}
}

func TestSequentialFailureStopsRelay(t *testing.T) {
	backends := map[string]*scriptedBackend{
		"alice": {err: fmt.Errorf("boom")},
		"bob":   {},
	}
	o := New(newRoster(t, backends), nil, nil)

	_, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolSequential,
		Participants: []string{"alice", "bob"},
		Prompt:       "x",
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if backends["bob"].calls() != 0 {
		t.Error("relay continued past a failed step")
	}
	if got := len(o.ActiveSessions()); got != 0 {
		t.Errorf("%d sessions left after failure, want 0", got)
	}
}

func TestParallelAggregationIsDeterministic(t *testing.T) {
	// alice finishes last; aggregation must still follow participant order.
	backends := map[string]*scriptedBackend{
		"alice": {replies: []string{"from alice"}, delay: 50 * time.Millisecond},
		"bob":   {replies: []string{"from bob"}},
	}
	o := New(newRoster(t, backends), nil, nil)

	res, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolParallel,
		Participants: []string{"alice", "bob"},
		Prompt:       "x",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ia := strings.Index(res.Output, "from alice")
	ib := strings.Index(res.Output, "from bob")
	if ia < 0 || ib < 0 {
		t.Fatalf("missing participant output: %q", res.Output)
	}
	if ia > ib {
		t.Error("aggregation does not follow participant order")
	}
	if res.Outputs[0].AgentID != "alice" || res.Outputs[1].AgentID != "bob" {
		t.Error("outputs out of participant order")
	}
}

func TestParallelPromptNamesInitiator(t *testing.T) {
	backends := map[string]*scriptedBackend{
		"alice": {replies: []string{"from alice"}},
		"bob":   {replies: []string{"from bob"}},
	}
	o := New(newRoster(t, backends), nil, nil)

	_, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolParallel,
		Initiator:    "alice",
		Participants: []string{"alice", "bob"},
		Prompt:       "x",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := backends["bob"].prompt(0); !strings.Contains(got, `Agent "alice" initiated this round`) {
		t.Errorf("bob's prompt does not name the initiator:\n%s", got)
	}
	if got := backends["alice"].prompt(0); !strings.Contains(got, "You initiated this round") {
		t.Errorf("alice's prompt does not mark it as initiator:\n%s", got)
	}
}

func TestParallelFailureFailsRound(t *testing.T) {
	backends := map[string]*scriptedBackend{
		"alice": {},
		"bob":   {err: fmt.Errorf("boom")},
	}
	o := New(newRoster(t, backends), nil, nil)

	_, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolParallel,
		Participants: []string{"alice", "bob"},
		Prompt:       "x",
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "bob") {
		t.Errorf("error %v does not name the failed participant", err)
	}
}

func TestHierarchicalRound(t *testing.T) {
	seed := `Plan below.
<action type="assign_tasks">
[{"assigned_to": "alice", "description": "fix the bug"},
 {"assigned_to": "bob", "description": "write the docs"}]
</action>`

	backends := map[string]*scriptedBackend{
		"lead":  {replies: []string{seed, "final answer"}},
		"alice": {replies: []string{"bug fixed"}},
		"bob":   {replies: []string{"docs written"}},
	}
	o := New(newRoster(t, backends), nil, nil)

	res, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolHierarchical,
		Participants: []string{"lead", "alice", "bob"},
		Prompt:       "ship it",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Output != "final answer" {
		t.Errorf("output = %q, want integration response", res.Output)
	}
	if !strings.Contains(backends["alice"].prompt(0), "fix the bug") {
		t.Error("worker did not receive its assignment")
	}

	integration := backends["lead"].prompt(1)
	ia := strings.Index(integration, "bug fixed")
	ib := strings.Index(integration, "docs written")
	if ia < 0 || ib < 0 {
		t.Fatal("integration prompt missing worker results")
	}
	if ia > ib {
		t.Error("worker results out of assignment order")
	}

	// coordinator seed, two workers, integration
	if len(res.Outputs) != 4 {
		t.Errorf("recorded %d outputs, want 4", len(res.Outputs))
	}
}

func TestHierarchicalUnknownWorker(t *testing.T) {
	seed := `<action type="assign_tasks">
[{"assigned_to": "ghost", "description": "haunt"}]
</action>`

	backends := map[string]*scriptedBackend{
		"lead":  {replies: []string{seed}},
		"alice": {},
	}
	o := New(newRoster(t, backends), nil, nil)

	_, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolHierarchical,
		Participants: []string{"lead", "alice"},
		Prompt:       "x",
	})
	if err == nil {
		t.Fatal("expected unknown worker failure")
	}
	if backends["alice"].calls() != 0 {
		t.Error("worker dispatched despite invalid assignment set")
	}
}

func TestHierarchicalNoAssignments(t *testing.T) {
	backends := map[string]*scriptedBackend{
		"lead":  {replies: []string{"I can handle this alone"}},
		"alice": {},
	}
	o := New(newRoster(t, backends), nil, nil)

	res, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolHierarchical,
		Participants: []string{"lead", "alice"},
		Prompt:       "x",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "I can handle this alone" {
		t.Errorf("output = %q, want coordinator's own answer", res.Output)
	}
	if backends["alice"].calls() != 0 {
		t.Error("worker dispatched without an assignment")
	}
}

func TestSessionCleanupAfterSuccess(t *testing.T) {
	backends := map[string]*scriptedBackend{"alice": {}}
	o := New(newRoster(t, backends), nil, nil)

	if _, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolSequential,
		Participants: []string{"alice"},
		Prompt:       "x",
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(o.ActiveSessions()); got != 0 {
		t.Errorf("%d sessions left after success, want 0", got)
	}
}

func TestRunUnknownParticipant(t *testing.T) {
	o := New(newRoster(t, nil), nil, nil)

	_, err := o.Run(context.Background(), Request{
		Protocol:     ProtocolSequential,
		Participants: []string{"nobody"},
		Prompt:       "x",
	})
	if err == nil {
		t.Fatal("expected unknown participant failure")
	}
}

func TestCreateExecuteEndLifecycle(t *testing.T) {
	backends := map[string]*scriptedBackend{"alice": {replies: []string{"done"}}}
	o := New(newRoster(t, backends), nil, nil)

	sess, err := o.CreateSession(Request{
		ID:           "s1",
		Protocol:     ProtocolSequential,
		Participants: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, ok := o.Session(sess.ID); !ok {
		t.Fatal("created session not retrievable")
	}

	if _, err := o.CreateSession(Request{
		ID:           "s1",
		Protocol:     ProtocolParallel,
		Participants: []string{"alice"},
	}); err == nil {
		t.Fatal("expected duplicate session id rejection")
	}

	res, err := o.Execute(context.Background(), "s1", "do it", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "done" {
		t.Errorf("output = %q, want done", res.Output)
	}
	if _, ok := o.Session("s1"); ok {
		t.Error("session survived execution")
	}
	if _, err := o.Execute(context.Background(), "s1", "again", ""); err == nil {
		t.Error("expected error executing a consumed session")
	}
}

func TestEndSessionWithoutExecution(t *testing.T) {
	backends := map[string]*scriptedBackend{"alice": {}}
	o := New(newRoster(t, backends), nil, nil)

	if _, err := o.CreateSession(Request{
		ID:           "s2",
		Protocol:     ProtocolSequential,
		Participants: []string{"alice"},
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := o.EndSession("s2"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := o.EndSession("s2"); err == nil {
		t.Error("expected error ending an unknown session")
	}
	if backends["alice"].calls() != 0 {
		t.Error("ending a session should not dispatch any agent")
	}
}

func TestCreateSessionRejectsBadProtocol(t *testing.T) {
	o := New(newRoster(t, map[string]*scriptedBackend{"alice": {}}), nil, nil)

	if _, err := o.CreateSession(Request{
		Protocol:     Protocol("broadcast"),
		Participants: []string{"alice"},
	}); err == nil {
		t.Fatal("expected unknown protocol rejection")
	}
}

func TestSessionStoreEndIsExclusiveWithRunning(t *testing.T) {
	s := newSessionStore()
	if err := s.create(&Session{ID: "s1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.markRunning("s1"); err != nil {
		t.Fatalf("markRunning: %v", err)
	}
	if err := s.end("s1"); err == nil {
		t.Fatal("expected end to refuse a running session")
	}
	if _, ok := s.get("s1"); !ok {
		t.Fatal("refused end must leave the session in place")
	}

	// Once a round has claimed the session, only its own cleanup removes it.
	s.delete("s1")
	if err := s.end("s1"); err == nil {
		t.Error("expected unknown session error")
	}

	// The claim and the end race from many goroutines: exactly one of the
	// two outcomes wins per session, never both.
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("race-%d", i)
		if err := s.create(&Session{ID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}

		var wg sync.WaitGroup
		var runErr, endErr error
		wg.Add(2)
		go func() { defer wg.Done(); runErr = s.markRunning(id) }()
		go func() { defer wg.Done(); endErr = s.end(id) }()
		wg.Wait()

		if runErr == nil && endErr == nil {
			t.Fatalf("%s: session both claimed and ended", id)
		}
		if runErr == nil {
			if _, ok := s.get(id); !ok {
				t.Fatalf("%s: claimed session was removed", id)
			}
			s.delete(id)
		}
	}
}

func TestSessionStoreRejectsDuplicate(t *testing.T) {
	s := newSessionStore()
	if err := s.create(&Session{ID: "s1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.create(&Session{ID: "s1"}); err == nil {
		t.Fatal("expected duplicate session rejection")
	}
	s.delete("s1")
	if err := s.create(&Session{ID: "s1"}); err != nil {
		t.Errorf("create after delete: %v", err)
	}
}

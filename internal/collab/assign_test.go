package collab

import (
	"encoding/json"
	"testing"

	"github.com/softcrew/crewd/internal/agent"
)

func TestParseAssignmentsStructured(t *testing.T) {
	out := &agent.Output{
		Response: "ignored when a structured block exists",
		Actions: []agent.Action{{
			Type:    agent.ActionAssignTasks,
			Payload: json.RawMessage(`[{"assigned_to": "alice", "description": "fix bug"}]`),
		}},
	}

	got := ParseAssignments(out)
	if len(got) != 1 {
		t.Fatalf("parsed %d assignments, want 1", len(got))
	}
	if got[0].AssignedTo != "alice" || got[0].Description != "fix bug" {
		t.Errorf("assignment = %+v", got[0])
	}
}

func TestParseAssignmentsFallbackOnBadPayload(t *testing.T) {
	out := &agent.Output{
		Response: "bob: write docs",
		Actions: []agent.Action{{
			Type:    agent.ActionAssignTasks,
			Payload: json.RawMessage(`not json`),
		}},
	}

	got := ParseAssignments(out)
	if len(got) != 1 || got[0].AssignedTo != "bob" {
		t.Fatalf("fallback parse = %+v", got)
	}
}

func TestParseAssignmentTextMultiLine(t *testing.T) {
	text := `alice: fix bug
more detail about the bug

bob: write docs`

	got := parseAssignmentText(text)
	if len(got) != 2 {
		t.Fatalf("parsed %d assignments, want 2", len(got))
	}
	if got[0].AssignedTo != "alice" {
		t.Errorf("first assignee = %q, want alice", got[0].AssignedTo)
	}
	if got[0].Description != "fix bug\nmore detail about the bug" {
		t.Errorf("first description = %q", got[0].Description)
	}
	if got[1].AssignedTo != "bob" || got[1].Description != "write docs" {
		t.Errorf("second assignment = %+v", got[1])
	}
}

func TestParseAssignmentTextEmpty(t *testing.T) {
	if got := parseAssignmentText("no assignments here, just prose without colons"); len(got) != 0 {
		t.Errorf("expected no assignments, got %+v", got)
	}
}

func TestParseAssignmentTextFlushesFinal(t *testing.T) {
	got := parseAssignmentText("carol: deploy the service")
	if len(got) != 1 || got[0].AssignedTo != "carol" {
		t.Fatalf("final assignment not flushed: %+v", got)
	}
}

package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ActionType is the closed set of side effects an agent may request. Anything
// outside this set is rejected at dispatch, not silently ignored.
type ActionType string

const (
	ActionWriteFile   ActionType = "write_file"
	ActionRunCommand  ActionType = "run_command"
	ActionStoreSet    ActionType = "store_set"
	ActionNotify      ActionType = "notify"
	ActionAssignTasks ActionType = "assign_tasks"
)

// Action is a typed side-effect request recovered from model output. The
// payload stays opaque to the orchestration layer; only handlers decode it.
type Action struct {
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ExecutedAction records the outcome of dispatching one action, so execution
// failures are observable in the agent's output instead of being swallowed.
type ExecutedAction struct {
	Action Action `json:"action"`
	Result string `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Model replies embed actions as delimited blocks:
//
//	<action type="write_file">
//	{"path": "notes.md", "content": "..."}
//	</action>
//
// Markers are matched case-insensitively and the body is taken verbatim.
var actionBlockRe = regexp.MustCompile(`(?is)<action\s+type="([a-z0-9_-]+)"\s*>(.*?)</action>`)

// ParseActions extracts every action block from a model reply, in order of
// appearance. Unknown types are kept; the dispatcher rejects them later so
// the error is attributable to the specific action.
func ParseActions(text string) []Action {
	matches := actionBlockRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	actions := make([]Action, 0, len(matches))
	for _, m := range matches {
		body := strings.TrimSpace(m[2])
		actions = append(actions, Action{
			Type:    ActionType(strings.ToLower(m[1])),
			Payload: json.RawMessage(body),
		})
	}
	return actions
}

// StripActions removes action blocks from a reply, leaving the prose the
// agent returns as its response text.
func StripActions(text string) string {
	return strings.TrimSpace(actionBlockRe.ReplaceAllString(text, ""))
}

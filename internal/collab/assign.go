package collab

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/softcrew/crewd/internal/agent"
)

// Assignment is one coordinator-issued unit of work for a named worker.
type Assignment struct {
	AssignedTo  string `json:"assigned_to"`
	Description string `json:"description"`
}

// assignLineRe matches the head of a heuristic assignment: a bare identifier
// followed by a colon and the first line of the task text.
var assignLineRe = regexp.MustCompile(`^([A-Za-z0-9_-]+):\s*(.*)$`)

// ParseAssignments recovers task assignments from a coordinator's output.
// The structured path is an assign_tasks action carrying a JSON array; if no
// such action exists, or its payload does not decode, the response text is
// scanned heuristically. An empty result is a valid outcome, not an error.
func ParseAssignments(out *agent.Output) []Assignment {
	for _, act := range out.Actions {
		if act.Type != agent.ActionAssignTasks {
			continue
		}

		var assignments []Assignment
		if err := json.Unmarshal(act.Payload, &assignments); err != nil {
			slog.Warn("assign_tasks payload did not decode, falling back to text scan", "error", err)
			break
		}
		return assignments
	}

	return parseAssignmentText(out.Response)
}

// parseAssignmentText scans free text for `identifier: task` lines. Lines
// following a head line accumulate into that assignment's description until
// the next head line; the final assignment is flushed at end of input.
func parseAssignmentText(text string) []Assignment {
	var (
		assignments []Assignment
		current     *Assignment
	)

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := assignLineRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				assignments = append(assignments, *current)
			}
			current = &Assignment{AssignedTo: m[1], Description: m[2]}
			continue
		}

		if current != nil {
			if current.Description != "" {
				current.Description += "\n"
			}
			current.Description += line
		}
	}

	if current != nil {
		assignments = append(assignments, *current)
	}

	return assignments
}

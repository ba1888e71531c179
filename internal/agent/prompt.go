package agent

import (
	"fmt"
	"strings"
)

// WorkerResult pairs a worker agent with the output it produced, carried in
// metadata under MetaWorkerResults during hierarchical integration.
type WorkerResult struct {
	AgentID string  `json:"agent_id"`
	Output  *Output `json:"output"`
}

// buildPrompt assembles the backend prompt from the input and the agent's
// position in an ongoing collaboration, read from metadata.
func (a *Agent) buildPrompt(in Input) string {
	var sb strings.Builder

	sb.WriteString("## Instruction\n\n")
	sb.WriteString(in.Prompt)
	sb.WriteString("\n\n")

	if in.Context != "" {
		sb.WriteString("## Context\n\n")
		sb.WriteString(in.Context)
		sb.WriteString("\n\n")
	}

	for _, f := range in.Files {
		fmt.Fprintf(&sb, "## File: %s\n\n%s\n\n", f.Path, f.Content)
	}

	a.writeCollabSection(&sb, in.Metadata)

	if last, ok := a.ContextValue(lastResponseKey); ok && last != "" {
		sb.WriteString("## Your Previous Work\n\n")
		sb.WriteString(last)
		sb.WriteString("\n\n")
	}

	sb.WriteString(actionInstructions)

	return sb.String()
}

// writeCollabSection tells the model where this agent sits in the protocol:
// relay position, coordinator seeding, worker task, or integration.
func (a *Agent) writeCollabSection(sb *strings.Builder, meta map[string]any) {
	if meta == nil {
		return
	}

	protocol, _ := meta[MetaProtocol].(string)
	if protocol == "" {
		return
	}

	sb.WriteString("## Collaboration\n\n")
	fmt.Fprintf(sb, "You are %s (%s) in a %s collaboration.\n", a.Name, a.Role, protocol)

	if protocol == "parallel" {
		if initiator, ok := meta[MetaInitiator].(string); ok && initiator != "" {
			if initiator == a.ID {
				sb.WriteString("You initiated this round; the other participants are working on the same instruction.\n")
			} else {
				fmt.Fprintf(sb, "Agent %q initiated this round; every participant works the same instruction independently.\n", initiator)
			}
		}
	}

	if prev, ok := meta[MetaPrevAgent].(string); ok && prev != "" {
		fmt.Fprintf(sb, "The instruction above is the output of agent %q; build on it.\n", prev)
	}
	if next, ok := meta[MetaNextAgent].(string); ok && next != "" {
		fmt.Fprintf(sb, "Your output will be handed to agent %q.\n", next)
	}

	if isCoord, _ := meta[MetaIsCoordinator].(bool); isCoord {
		if isIntegration, _ := meta[MetaIsIntegration].(bool); isIntegration {
			sb.WriteString("You are the coordinator. Integrate the worker results below into one final answer.\n")
			writeWorkerResults(sb, meta)
		} else {
			sb.WriteString("You are the coordinator. Break the task into assignments, one per worker, using an assign_tasks action:\n")
			sb.WriteString("<action type=\"assign_tasks\">\n[{\"assigned_to\": \"<agent-id>\", \"description\": \"<task>\"}]\n</action>\n")
		}
	} else if coord, ok := meta[MetaCoordinator].(string); ok && coord != "" {
		fmt.Fprintf(sb, "You are a worker; coordinator %q assigned you this task.\n", coord)
	}

	sb.WriteString("\n")
}

func writeWorkerResults(sb *strings.Builder, meta map[string]any) {
	results, ok := meta[MetaWorkerResults].([]WorkerResult)
	if !ok || len(results) == 0 {
		return
	}

	sb.WriteString("\n### Worker Results\n\n")
	for _, r := range results {
		response := ""
		if r.Output != nil {
			response = r.Output.Response
		}
		fmt.Fprintf(sb, "#### %s\n\n%s\n\n", r.AgentID, response)
	}
}

const actionInstructions = `## Actions

When you need a side effect, emit an action block. Supported types:
write_file {"path", "content"}, run_command {"command"}, store_set {"key", "value"}, notify {"message"}.

<action type="write_file">
{"path": "example.md", "content": "..."}
</action>
`

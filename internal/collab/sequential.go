package collab

import (
	"context"
	"fmt"

	"github.com/softcrew/crewd/internal/agent"
)

// runSequential relays the work through the participants in order. After the
// first hop each agent's prompt is the previous agent's response, metadata
// accumulates hop by hop, and the last response is the round's output. Any
// failure stops the relay and fails the round.
func (o *Orchestrator) runSequential(ctx context.Context, req Request, agents []*agent.Agent, base map[string]any) (*Result, error) {
	outputs := make([]AgentOutput, 0, len(agents))
	meta := base
	prompt := req.Prompt
	contextText := req.Context

	for i, a := range agents {
		hop := agent.MergeMetadata(meta, nil)
		if i > 0 {
			hop[agent.MetaPrevAgent] = agents[i-1].ID
		}
		if i < len(agents)-1 {
			hop[agent.MetaNextAgent] = agents[i+1].ID
		} else {
			// A next pointer inherited from the previous hop's metadata
			// would name this agent itself; the relay ends here.
			delete(hop, agent.MetaNextAgent)
		}

		out, err := a.Process(ctx, agent.Input{
			Prompt:   prompt,
			Context:  contextText,
			Metadata: hop,
		})
		if err != nil {
			return nil, fmt.Errorf("sequential step %d (%s): %w", i+1, a.ID, err)
		}

		outputs = append(outputs, AgentOutput{AgentID: a.ID, Output: out})
		meta = out.Metadata
		// The response becomes the next participant's prompt; the seed
		// instruction rides along as context.
		prompt = out.Response
		contextText = req.Prompt

		o.publishEvent(req.ID, "collab_step_completed", map[string]any{
			"agent": a.ID,
			"step":  i + 1,
			"total": len(agents),
		})
	}

	return &Result{
		SessionID: req.ID,
		Protocol:  ProtocolSequential,
		Output:    prompt,
		Outputs:   outputs,
		Metadata:  meta,
	}, nil
}

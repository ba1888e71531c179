package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/softcrew/crewd/internal/agent"
)

// runParallel fans the same prompt out to every participant at once and
// aggregates the responses in participant order, so the combined output is
// deterministic regardless of completion order. One failed participant fails
// the round after the remaining goroutines drain.
func (o *Orchestrator) runParallel(ctx context.Context, req Request, agents []*agent.Agent, base map[string]any) (*Result, error) {
	results := make(map[string]*agent.Output, len(agents))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error {
			out, err := a.Process(gctx, agent.Input{
				Prompt:   req.Prompt,
				Context:  req.Context,
				Metadata: agent.MergeMetadata(base, nil),
			})
			if err != nil {
				return fmt.Errorf("parallel participant %s: %w", a.ID, err)
			}

			mu.Lock()
			results[a.ID] = out
			mu.Unlock()

			o.publishEvent(req.ID, "collab_step_completed", map[string]any{"agent": a.ID})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	outputs := make([]AgentOutput, 0, len(agents))
	meta := agent.MergeMetadata(base, nil)
	for _, a := range agents {
		out := results[a.ID]
		outputs = append(outputs, AgentOutput{AgentID: a.ID, Output: out})
		fmt.Fprintf(&sb, "## %s (%s)\n\n%s\n\n", a.Name, a.Role, out.Response)
		meta = agent.MergeMetadata(meta, out.Metadata)
	}

	return &Result{
		SessionID: req.ID,
		Protocol:  ProtocolParallel,
		Output:    strings.TrimSpace(sb.String()),
		Outputs:   outputs,
		Metadata:  meta,
	}, nil
}

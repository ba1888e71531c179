package collab

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/softcrew/crewd/internal/agent"
)

// runHierarchical runs a coordinator/worker round. The first participant
// coordinates: it breaks the prompt into assignments, the named workers run
// them concurrently, and the coordinator integrates the worker results into
// the final output. An assignment naming an unknown worker fails the round
// before any worker is dispatched.
func (o *Orchestrator) runHierarchical(ctx context.Context, req Request, agents []*agent.Agent, base map[string]any) (*Result, error) {
	if len(agents) < 2 {
		return nil, fmt.Errorf("hierarchical collaboration requires a coordinator and at least one worker")
	}

	coordinator := agents[0]
	workers := make(map[string]*agent.Agent, len(agents)-1)
	for _, a := range agents[1:] {
		workers[a.ID] = a
	}

	coordMeta := agent.MergeMetadata(base, map[string]any{
		agent.MetaIsCoordinator: true,
	})

	seed, err := coordinator.Process(ctx, agent.Input{
		Prompt:   req.Prompt,
		Context:  req.Context,
		Metadata: coordMeta,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator %s: %w", coordinator.ID, err)
	}

	outputs := []AgentOutput{{AgentID: coordinator.ID, Output: seed}}

	assignments := ParseAssignments(seed)
	if len(assignments) == 0 {
		// Nothing to delegate; the coordinator's own answer stands.
		return &Result{
			SessionID: req.ID,
			Protocol:  ProtocolHierarchical,
			Output:    seed.Response,
			Outputs:   outputs,
			Metadata:  seed.Metadata,
		}, nil
	}

	for _, as := range assignments {
		if _, ok := workers[as.AssignedTo]; !ok {
			return nil, fmt.Errorf("assignment names unknown worker %q", as.AssignedTo)
		}
	}

	o.publishEvent(req.ID, "collab_tasks_assigned", map[string]any{
		"coordinator": coordinator.ID,
		"assignments": len(assignments),
	})

	workerOuts := make(map[int]*agent.Output, len(assignments))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, as := range assignments {
		w := workers[as.AssignedTo]
		g.Go(func() error {
			out, err := w.Process(gctx, agent.Input{
				Prompt:  as.Description,
				Context: seed.Response,
				Metadata: agent.MergeMetadata(base, map[string]any{
					agent.MetaCoordinator:   coordinator.ID,
					agent.MetaIsCoordinator: false,
					agent.MetaTask:          as.Description,
				}),
			})
			if err != nil {
				return fmt.Errorf("worker %s: %w", w.ID, err)
			}

			mu.Lock()
			workerOuts[i] = out
			mu.Unlock()

			o.publishEvent(req.ID, "collab_step_completed", map[string]any{"agent": w.ID})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Worker results keep assignment order for the integration prompt.
	workerResults := make([]agent.WorkerResult, len(assignments))
	for i, as := range assignments {
		out := workerOuts[i]
		workerResults[i] = agent.WorkerResult{AgentID: as.AssignedTo, Output: out}
		outputs = append(outputs, AgentOutput{AgentID: as.AssignedTo, Output: out})
	}

	final, err := coordinator.Process(ctx, agent.Input{
		Prompt:  req.Prompt,
		Context: req.Context,
		Metadata: agent.MergeMetadata(seed.Metadata, map[string]any{
			agent.MetaIsCoordinator: true,
			agent.MetaIsIntegration: true,
			agent.MetaWorkerResults: workerResults,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("integration by %s: %w", coordinator.ID, err)
	}

	outputs = append(outputs, AgentOutput{AgentID: coordinator.ID, Output: final})

	return &Result{
		SessionID: req.ID,
		Protocol:  ProtocolHierarchical,
		Output:    final.Response,
		Outputs:   outputs,
		Metadata:  final.Metadata,
	}, nil
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/softcrew/crewd/internal/backend"
	"github.com/softcrew/crewd/internal/store"
)

// State is the lifecycle state of an agent. Initialize moves Idle →
// Initializing → Idle|Error; Process moves (any) → Processing → Idle|Error.
// The terminal transition runs on every exit path, including panics, so no
// agent is ever left stuck in Processing.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateProcessing   State = "processing"
	StateError        State = "error"
)

const lastResponseKey = "last_response"

// Agent is one roster member: a named role that turns an instruction into a
// response plus typed action requests by delegating to the model backend.
type Agent struct {
	ID           string
	Name         string
	Role         Role
	Capabilities []string

	model        string
	systemPrompt string
	backend      backend.Completer
	dispatcher   *Dispatcher
	store        *store.Store

	mu      sync.Mutex
	state   State
	context map[string]string
}

type Config struct {
	ID           string
	Name         string
	Role         Role
	Model        string
	Capabilities []string
	SystemPrompt string
	Backend      backend.Completer
	Dispatcher   *Dispatcher
	Store        *store.Store
}

func New(cfg Config) *Agent {
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = defaultCapabilities(cfg.Role)
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt(cfg.Role)
	}

	return &Agent{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Role:         cfg.Role,
		Capabilities: caps,
		model:        cfg.Model,
		systemPrompt: system,
		backend:      cfg.Backend,
		dispatcher:   cfg.Dispatcher,
		store:        cfg.Store,
		state:        StateIdle,
		context:      make(map[string]string),
	}
}

func (a *Agent) Status() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Initialize loads persisted derived state and readies the agent.
func (a *Agent) Initialize(ctx context.Context) (err error) {
	a.setState(StateInitializing)
	defer func() {
		if err != nil {
			a.setState(StateError)
		} else {
			a.setState(StateIdle)
		}
	}()

	if a.backend == nil {
		return fmt.Errorf("agent %s: no backend configured", a.ID)
	}

	if a.store != nil {
		state, err := a.store.ListAgentState(a.ID)
		if err != nil {
			return fmt.Errorf("load agent state: %w", err)
		}
		a.mu.Lock()
		for k, v := range state {
			a.context[k] = v
		}
		a.mu.Unlock()
	}

	return nil
}

// Process runs one instruction through the backend, parses the reply into a
// response plus actions, and executes every action through the dispatcher.
// Action execution failures are recorded in ExecutedActions, not propagated;
// a backend failure fails the call and leaves the agent in Error.
//
// Process is not reentrant: a second call while one is in flight is rejected
// so callers cannot observe interleaved state.
func (a *Agent) Process(ctx context.Context, in Input) (out *Output, err error) {
	a.mu.Lock()
	if a.state == StateProcessing {
		a.mu.Unlock()
		return nil, fmt.Errorf("agent %s is already processing", a.ID)
	}
	a.state = StateProcessing
	a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", a.ID, r)
		}
		if err != nil {
			a.setState(StateError)
		} else {
			a.setState(StateIdle)
		}
	}()

	prompt := a.buildPrompt(in)

	reply, err := a.backend.Complete(ctx, prompt, backend.Options{
		Model:  a.model,
		System: a.systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.ID, err)
	}

	actions := ParseActions(reply)
	response := StripActions(reply)

	executed := a.executeActions(ctx, actions)

	out = &Output{
		Response:        response,
		Actions:         actions,
		ExecutedActions: executed,
		Metadata: MergeMetadata(in.Metadata, map[string]any{
			"agent_id": a.ID,
			"role":     string(a.Role),
		}),
	}

	a.rememberResponse(response)

	return out, nil
}

// executeActions dispatches every action except assign_tasks, which is a
// protocol-level action consumed by the collaboration orchestrator.
func (a *Agent) executeActions(ctx context.Context, actions []Action) []ExecutedAction {
	if a.dispatcher == nil || len(actions) == 0 {
		return nil
	}

	executed := make([]ExecutedAction, 0, len(actions))
	for _, act := range actions {
		if act.Type == ActionAssignTasks {
			continue
		}

		result, err := a.dispatcher.Execute(ctx, act)
		ea := ExecutedAction{Action: act, Result: result}
		if err != nil {
			ea.Err = err.Error()
			slog.Warn("action execution failed", "agent", a.ID, "type", act.Type, "error", err)
		}
		executed = append(executed, ea)
	}
	return executed
}

// rememberResponse keeps the latest response as derived state, both in the
// in-memory context and, when a store is attached, across restarts.
func (a *Agent) rememberResponse(response string) {
	summary := response
	if len(summary) > 500 {
		summary = summary[:500]
	}

	a.mu.Lock()
	a.context[lastResponseKey] = summary
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.SetAgentState(a.ID, lastResponseKey, summary); err != nil {
			slog.Warn("persist agent state failed", "agent", a.ID, "error", err)
		}
	}
}

// ContextValue exposes one entry of the agent's derived context.
func (a *Agent) ContextValue(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.context[key]
	return v, ok
}

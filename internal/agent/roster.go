package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/softcrew/crewd/internal/backend"
	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/store"
)

// Roster holds the live agents, keyed by id. It is the single registry the
// collaboration and workflow layers resolve participants from.
type Roster struct {
	defaultModel string
	backend      backend.Completer
	dispatcher   *Dispatcher
	store        *store.Store

	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRoster(defaultModel string, b backend.Completer, d *Dispatcher, s *store.Store) *Roster {
	return &Roster{
		defaultModel: defaultModel,
		backend:      b,
		dispatcher:   d,
		store:        s,
		agents:       make(map[string]*Agent),
	}
}

// Sync reconciles the roster with the configured agent definitions: new
// definitions are added, changed ones replaced, and agents no longer in the
// config removed.
func (r *Roster) Sync(defs map[string]config.AgentDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, def := range defs {
		a, err := r.build(id, def)
		if err != nil {
			return err
		}
		r.agents[id] = a
	}

	for id := range r.agents {
		if _, ok := defs[id]; !ok {
			delete(r.agents, id)
		}
	}

	return nil
}

// build constructs an agent from a definition, filling in the roster's
// defaults and shared dependencies.
func (r *Roster) build(id string, def config.AgentDefinition) (*Agent, error) {
	role, err := ParseRole(def.Role)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}

	model := def.Model
	if model == "" {
		model = r.defaultModel
	}
	name := def.Name
	if name == "" {
		name = id
	}

	return New(Config{
		ID:           id,
		Name:         name,
		Role:         role,
		Model:        model,
		Capabilities: def.Capabilities,
		SystemPrompt: def.SystemPrompt,
		Backend:      r.backend,
		Dispatcher:   r.dispatcher,
		Store:        r.store,
	}), nil
}

// Create builds an agent from a definition and registers it.
func (r *Roster) Create(id string, def config.AgentDefinition) (*Agent, error) {
	a, err := r.build(id, def)
	if err != nil {
		return nil, err
	}
	if err := r.Add(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Add registers a single agent. Duplicate ids are rejected so a caller
// cannot silently replace a live agent.
func (r *Roster) Add(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID]; ok {
		return fmt.Errorf("agent %s already registered", a.ID)
	}
	r.agents[a.ID] = a
	return nil
}

func (r *Roster) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", id)
	}
	return a, nil
}

func (r *Roster) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("unknown agent %q", id)
	}
	delete(r.agents, id)
	return nil
}

// List returns the agents sorted by id so callers iterate deterministically.
func (r *Roster) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve maps a list of participant ids to agents, failing on the first
// unknown id.
func (r *Roster) Resolve(ids []string) ([]*Agent, error) {
	agents := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		a, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

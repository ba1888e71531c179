package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/backend"
	"github.com/softcrew/crewd/internal/config"
)

// Router picks the agent that should handle a free-form instruction. An
// explicit @agent prefix wins; otherwise the backend is asked to pick from
// the roster, and the configured default agent is the fallback.
type Router struct {
	roster       *agent.Roster
	backend      backend.Completer
	model        string
	defaultAgent string
}

func New(roster *agent.Roster, b backend.Completer, model string, cfg config.RouterConfig) *Router {
	return &Router{
		roster:       roster,
		backend:      b,
		model:        model,
		defaultAgent: cfg.DefaultAgent,
	}
}

func (r *Router) DefaultAgent() string {
	return r.defaultAgent
}

// SetDefaultAgent updates the fallback agent, used on config reload.
func (r *Router) SetDefaultAgent(id string) {
	r.defaultAgent = id
}

// Route resolves an instruction to an agent id and the instruction with any
// routing prefix removed.
func (r *Router) Route(ctx context.Context, message string) (agentID string, cleaned string, err error) {
	if strings.HasPrefix(message, "@") {
		parts := strings.SplitN(message, " ", 2)
		id := strings.TrimPrefix(parts[0], "@")
		if _, err := r.roster.Get(id); err == nil {
			cleaned := ""
			if len(parts) > 1 {
				cleaned = parts[1]
			}
			return id, cleaned, nil
		}
		// Unknown prefix falls through to model routing.
	}

	if r.backend != nil {
		agents := r.roster.List()
		if len(agents) > 1 {
			picked, routeErr := r.backend.Complete(ctx, routingPrompt(agents, message), backend.Options{Model: r.model})
			if routeErr != nil {
				slog.Debug("model routing failed, using default agent", "error", routeErr)
			} else {
				picked = strings.TrimSpace(picked)
				if _, err := r.roster.Get(picked); err == nil {
					return picked, message, nil
				}
				slog.Debug("model routing returned unknown agent, using default", "agent", picked)
			}
		}
	}

	if r.defaultAgent == "" {
		return "", message, fmt.Errorf("no default agent configured")
	}
	return r.defaultAgent, message, nil
}

func routingPrompt(agents []*agent.Agent, message string) string {
	var sb strings.Builder
	sb.WriteString("You are a message router. Given the user's message, determine which agent should handle it.\n\n")
	sb.WriteString("Available agents:\n")
	for _, a := range agents {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", a.ID, a.Role, strings.Join(a.Capabilities, ", "))
	}
	sb.WriteString("\nUser message: ")
	sb.WriteString(message)
	sb.WriteString("\n\nRespond with ONLY the agent id, nothing else.")
	return sb.String()
}

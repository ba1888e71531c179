// Package backend provides the model completion capability the agent layer
// delegates to: a single Complete(prompt, options) -> text call. Two
// implementations exist, an HTTP client for an Anthropic-style messages API
// and a NATS request-reply client for in-cluster completion services.
package backend

import (
	"context"
	"fmt"

	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/natsbus"
)

// Options tune a single completion call. Zero values fall back to the
// backend's configured defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
}

type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// New builds the configured backend. The NATS kind needs a bus to ride on.
func New(cfg config.BackendConfig, bus *natsbus.Bus) (Completer, error) {
	switch cfg.Kind {
	case "", "http":
		return NewHTTP(cfg), nil
	case "nats":
		if bus == nil {
			return nil, fmt.Errorf("nats backend requires a bus")
		}
		client, err := natsbus.NewClient(bus)
		if err != nil {
			return nil, fmt.Errorf("backend nats client: %w", err)
		}
		return NewNATS(client, cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", cfg.Kind)
	}
}

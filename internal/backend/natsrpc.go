package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/natsbus"
)

// NATSBackend forwards completion calls as request-reply messages on the bus,
// for deployments where a completion service subscribes in-cluster.
type NATSBackend struct {
	client  *natsbus.Client
	cfg     config.BackendConfig
	timeout time.Duration
}

type completeRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type completeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewNATS(client *natsbus.Client, cfg config.BackendConfig) *NATSBackend {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &NATSBackend{client: client, cfg: cfg, timeout: timeout}
}

func (b *NATSBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = b.cfg.Model
	}

	req := completeRequest{
		Prompt:      prompt,
		System:      opts.System,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	msg, err := b.client.Request(natsbus.TopicBackendComplete(model), data, timeout)
	if err != nil {
		return "", fmt.Errorf("complete via bus: %w", err)
	}

	var resp completeResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return "", fmt.Errorf("parse reply: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("backend error: %s", resp.Error)
	}
	return resp.Text, nil
}

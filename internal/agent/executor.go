package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Handler executes one action payload and returns a short result description.
type Handler func(ctx context.Context, payload json.RawMessage) (string, error)

// Dispatcher routes actions to registered handlers by type. Dispatch of an
// unregistered or unknown type is an explicit error.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[ActionType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[ActionType]Handler)}
}

func (d *Dispatcher) Register(t ActionType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

func (d *Dispatcher) Execute(ctx context.Context, a Action) (string, error) {
	d.mu.RLock()
	h, ok := d.handlers[a.Type]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown action type: %s", a.Type)
	}
	return h(ctx, a.Payload)
}

// AgentStateWriter is the slice of the store the store_set handler needs.
type AgentStateWriter interface {
	SetAgentState(agentID, key, value string) error
}

// NewStoreSetHandler persists a key/value pair into the agent-state table.
// The owning agent id is bound at registration time.
func NewStoreSetHandler(w AgentStateWriter, agentID string) Handler {
	return func(ctx context.Context, payload json.RawMessage) (string, error) {
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("store_set payload: %w", err)
		}
		if req.Key == "" {
			return "", fmt.Errorf("store_set requires a key")
		}
		if err := w.SetAgentState(agentID, req.Key, req.Value); err != nil {
			return "", err
		}
		return "stored " + req.Key, nil
	}
}

// NewWriteFileHandler writes files under baseDir. Paths escaping baseDir are
// rejected.
func NewWriteFileHandler(baseDir string) Handler {
	return func(ctx context.Context, payload json.RawMessage) (string, error) {
		var req struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("write_file payload: %w", err)
		}
		if req.Path == "" {
			return "", fmt.Errorf("write_file requires a path")
		}

		full := filepath.Join(baseDir, filepath.Clean("/"+req.Path))
		if !strings.HasPrefix(full, filepath.Clean(baseDir)+string(os.PathSeparator)) {
			return "", fmt.Errorf("path escapes workspace: %s", req.Path)
		}

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", fmt.Errorf("create dir: %w", err)
		}
		if err := os.WriteFile(full, []byte(req.Content), 0o644); err != nil {
			return "", fmt.Errorf("write file: %w", err)
		}
		return "wrote " + req.Path, nil
	}
}

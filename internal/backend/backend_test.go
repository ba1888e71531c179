package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/softcrew/crewd/internal/config"
)

func TestHTTPComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}

		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "world"}},
		})
	}))
	defer srv.Close()

	b := NewHTTP(config.BackendConfig{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 128,
	})

	text, err := b.Complete(context.Background(), "hello", Options{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "world" {
		t.Errorf("expected world, got %q", text)
	}
}

func TestHTTPCompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer srv.Close()

	b := NewHTTP(config.BackendConfig{BaseURL: srv.URL, Model: "m", MaxTokens: 16})

	_, err := b.Complete(context.Background(), "hello", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(config.BackendConfig{Kind: "carrier-pigeon"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

func TestNewNATSRequiresBus(t *testing.T) {
	_, err := New(config.BackendConfig{Kind: "nats"}, nil)
	if err == nil {
		t.Fatal("expected error when nats backend has no bus")
	}
}

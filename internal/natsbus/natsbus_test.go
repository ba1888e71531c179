package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/softcrew/crewd/internal/config"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	c, err := NewClient(bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer c.Close()

	received := make(chan []byte, 1)
	sub, err := c.Subscribe(TopicWorkflowEvents("wf-1"), func(msg *nats.Msg) {
		received <- msg.Data
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	ev := Event{Type: "stage_started", RunID: "wf-1", Data: map[string]any{"stage": "requirements"}}
	if err := c.PublishEvent(TopicWorkflowEvents("wf-1"), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-received:
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if got.Type != "stage_started" || got.RunID != "wf-1" {
			t.Errorf("unexpected envelope: %+v", got)
		}
		if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
			t.Errorf("timestamp not RFC3339: %q", got.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRequestReply(t *testing.T) {
	bus := newTestBus(t)

	c, err := NewClient(bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer c.Close()

	sub, err := c.Subscribe(TopicBackendComplete("test-model"), func(msg *nats.Msg) {
		_ = msg.Respond([]byte(`{"text":"pong"}`))
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	resp, err := c.Request(TopicBackendComplete("test-model"), []byte(`{"prompt":"ping"}`), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(resp.Data) != `{"text":"pong"}` {
		t.Errorf("unexpected reply: %s", resp.Data)
	}
}

package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is the envelope every orchestration component publishes on the bus.
// The identifier fields are optional; each publisher fills in the one that
// names its subject.
type Event struct {
	Type       string         `json:"type"`
	Timestamp  string         `json:"timestamp"`
	SessionID  string         `json:"session_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	ScheduleID string         `json:"schedule_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Client is a thin connection to the embedded server for publishing
// orchestration events and request-reply calls.
type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus) (*Client, error) {
	conn, err := nats.Connect(bus.ClientURL())
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

// PublishEvent stamps the envelope and publishes it. Publish failures are
// returned but event publishing is best-effort for every caller.
func (c *Client) PublishEvent(topic string, ev Event) error {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

func (c *Client) Request(topic string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.Request(topic, data, timeout)
}

func (c *Client) Close() {
	c.conn.Close()
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/natsbus"
)

const telegramMaxLen = 4096

// Notifier delivers operator notifications over Telegram: explicit notify
// actions from agents plus terminal workflow and collaboration events.
type Notifier struct {
	bot    *telego.Bot
	chatID int64
}

func New(cfg config.NotifyConfig) (*Notifier, error) {
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("no telegram token configured")
	}

	bot, err := telego.NewBot(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &Notifier{bot: bot, chatID: cfg.ChatID}, nil
}

// Send delivers a message, split into chunks within Telegram's size limit.
func (n *Notifier) Send(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, telegramMaxLen) {
		if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// WatchEvents forwards terminal run events from the bus until the
// subscription is closed.
func (n *Notifier) WatchEvents(client *natsbus.Client) (*nats.Subscription, error) {
	return client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var event struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}

		var text string
		switch event.Type {
		case "workflow_completed", "workflow_failed", "workflow_stopped":
			text = fmt.Sprintf("Workflow run %s.", strings.TrimPrefix(event.Type, "workflow_"))
		case "collab_completed":
			text = "Collaboration completed."
		case "collab_failed":
			text = fmt.Sprintf("Collaboration failed: %v", event.Data["error"])
		default:
			return
		}

		if err := n.Send(context.Background(), text); err != nil {
			slog.Warn("event notification failed", "type", event.Type, "error", err)
		}
	})
}

// NewNotifyHandler adapts the notifier to the action dispatcher.
func NewNotifyHandler(n *Notifier) agent.Handler {
	return func(ctx context.Context, payload json.RawMessage) (string, error) {
		var req struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("notify payload: %w", err)
		}
		if req.Message == "" {
			return "", fmt.Errorf("notify requires a message")
		}
		if err := n.Send(ctx, req.Message); err != nil {
			return "", err
		}
		return "notification sent", nil
	}
}

// chunkMessage splits text into pieces within maxLen, preferring to cut at a
// newline past the midpoint.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

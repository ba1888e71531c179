package notify

import (
	"strings"
	"testing"

	"github.com/softcrew/crewd/internal/config"
)

func TestChunkMessage(t *testing.T) {
	if chunks := chunkMessage("hello", telegramMaxLen); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	exact := strings.Repeat("a", telegramMaxLen)
	if chunks := chunkMessage(exact, telegramMaxLen); len(chunks) != 1 {
		t.Errorf("expected 1 chunk at exact limit, got %d", len(chunks))
	}

	long := strings.Repeat("a", telegramMaxLen*2)
	if chunks := chunkMessage(long, telegramMaxLen); len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}
}

func TestChunkMessageSplitsAtNewline(t *testing.T) {
	msg := []byte(strings.Repeat("a", 5000))
	msg[3000] = '\n'

	chunks := chunkMessage(string(msg), telegramMaxLen)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 {
		t.Errorf("first chunk length = %d, want 3001 (through the newline)", len(chunks[0]))
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(config.NotifyConfig{}); err == nil {
		t.Fatal("expected error without token")
	}
}

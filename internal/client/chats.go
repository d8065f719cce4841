// ABOUTME: Conversation history endpoints: list, read turns, delete
// ABOUTME: Stored messages are converted back into turns with their steps

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/kbchat/internal/turn"
)

// Timestamp accepts the server's ISO-8601 times, which may omit the zone.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Chat is a conversation summary.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   *string   `json:"summary"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// Message is a stored turn. ThoughtSteps is a JSON-encoded list of steps.
type Message struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	ThoughtSteps *string   `json:"thought_steps"`
	CreatedAt    Timestamp `json:"created_at"`
}

type storedStep struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args"`
}

// Turn converts the message into a turn. When thought_steps cannot be decoded
// the turn is still returned, without steps, alongside the error.
func (m Message) Turn() (turn.Turn, error) {
	t := turn.Turn{Role: turn.Role(m.Role), Content: m.Content}
	if m.ThoughtSteps == nil || strings.TrimSpace(*m.ThoughtSteps) == "" {
		return t, nil
	}

	var raw []storedStep
	if err := json.Unmarshal([]byte(*m.ThoughtSteps), &raw); err != nil {
		return t, fmt.Errorf("decoding thought steps of message %s: %w", m.ID, err)
	}

	for _, s := range raw {
		switch s.Type {
		case "thought", "meta", "reasoning":
			t.Steps = append(t.Steps, turn.Reasoning{Text: s.Content})
		case "tool_call":
			t.Steps = append(t.Steps, turn.ToolCall{Name: s.Name, Args: s.Args})
		case "tool_output", "tool_result":
			t.Steps = append(t.Steps, turn.ToolResult{Text: s.Content})
		}
	}
	return t, nil
}

// ListChats returns conversations, most recently updated first.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := c.doJSON(ctx, http.MethodGet, "/chats/", nil, &chats); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	return chats, nil
}

// GetMessages returns a conversation's stored turns in order.
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chat id is required")
	}
	var msgs []Message
	if err := c.doJSON(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, &msgs); err != nil {
		return nil, fmt.Errorf("loading chat %s: %w", chatID, err)
	}
	return msgs, nil
}

// DeleteChat removes a conversation.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, nil); err != nil {
		return fmt.Errorf("deleting chat %s: %w", chatID, err)
	}
	return nil
}

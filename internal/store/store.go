// ABOUTME: Store interface and data types for the local transcript ledger
// ABOUTME: Defines Conversation and TurnRecord plus the step encoding shared with the server

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/kbchat/internal/turn"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Turn status values
const (
	StatusComplete = "complete"
	StatusError    = "error"
)

// Conversation is a locally recorded conversation, keyed by the server's id.
type Conversation struct {
	ID        string
	Title     string // first user message, truncated
	CreatedAt time.Time
	UpdatedAt time.Time
	TurnCount int
}

// TurnRecord is one recorded turn.
type TurnRecord struct {
	ID             string // generated when empty
	ConversationID string
	Turn           turn.Turn
	Status         string // StatusComplete or StatusError
	CreatedAt      time.Time
}

// Store persists the transcript ledger.
type Store interface {
	SaveTurn(ctx context.Context, rec *TurnRecord) error
	ListTurns(ctx context.Context, conversationID string) ([]*TurnRecord, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	Close() error
}

// titleLimit caps conversation titles in runes.
const titleLimit = 60

func titleFrom(content string) string {
	r := []rune(content)
	if len(r) <= titleLimit {
		return content
	}
	return string(r[:titleLimit-1]) + "…"
}

// storedStep matches the server's thought_steps entries so ledgers and server
// history share one shape.
type storedStep struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Name    string          `json:"name,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// EncodeSteps serializes steps in order.
func EncodeSteps(steps []turn.Step) (string, error) {
	out := make([]storedStep, 0, len(steps))
	for _, s := range steps {
		switch v := s.(type) {
		case turn.Reasoning:
			out = append(out, storedStep{Type: "thought", Content: v.Text})
		case turn.ToolCall:
			out = append(out, storedStep{Type: "tool_call", Name: v.Name, Args: v.Args})
		case turn.ToolResult:
			out = append(out, storedStep{Type: "tool_output", Content: v.Text})
		default:
			return "", fmt.Errorf("unknown step type %T", s)
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encoding steps: %w", err)
	}
	return string(data), nil
}

// DecodeSteps is the inverse of EncodeSteps. Unknown entries are skipped.
func DecodeSteps(data string) ([]turn.Step, error) {
	if data == "" {
		return nil, nil
	}
	var raw []storedStep
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("decoding steps: %w", err)
	}
	var steps []turn.Step
	for _, s := range raw {
		switch s.Type {
		case "thought":
			steps = append(steps, turn.Reasoning{Text: s.Content})
		case "tool_call":
			steps = append(steps, turn.ToolCall{Name: s.Name, Args: s.Args})
		case "tool_output":
			steps = append(steps, turn.ToolResult{Text: s.Content})
		}
	}
	return steps, nil
}

// ABOUTME: Event interpreter for the chat stream protocol
// ABOUTME: Classifies decoded frames by their "type" discriminator into typed events

package turn

import (
	"encoding/json"

	"github.com/2389/kbchat/internal/sse"
)

// Stream event discriminators.
const (
	TypeMeta       = "meta"
	TypeThought    = "thought"
	TypeToolCall   = "tool_call"
	TypeToolOutput = "tool_output"
	TypeAnswer     = "answer"
)

// Event is a classified stream event. The set of implementations is closed.
type Event interface {
	isEvent()
}

// MetaEvent carries a reasoning note and, on a new conversation, its server id.
type MetaEvent struct {
	Content string
	ChatID  string
}

// ThoughtEvent is a reasoning note emitted before tool calls.
type ThoughtEvent struct {
	Content string
}

// ToolCallEvent announces a tool invocation.
type ToolCallEvent struct {
	Name string
	Args json.RawMessage
}

// ToolOutputEvent carries a tool's result.
type ToolOutputEvent struct {
	Content string
}

// AnswerEvent is a fragment of the final answer text.
type AnswerEvent struct {
	Content string
}

// UnknownEvent is any discriminator this client does not understand.
type UnknownEvent struct {
	Type string
}

func (MetaEvent) isEvent()       {}
func (ThoughtEvent) isEvent()    {}
func (ToolCallEvent) isEvent()   {}
func (ToolOutputEvent) isEvent() {}
func (AnswerEvent) isEvent()     {}
func (UnknownEvent) isEvent()    {}

// payload is the union of all event shapes on the wire.
type payload struct {
	Type    string          `json:"type"`
	Content *string         `json:"content"`
	ChatID  *string         `json:"chat_id"`
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args"`
}

// ParseEvent classifies a frame. A payload that is not valid JSON, or whose
// fields have the wrong types, returns an *sse.ParseError.
func ParseEvent(frame sse.Frame) (Event, error) {
	var p payload
	if err := frame.Decode(&p); err != nil {
		return nil, err
	}

	content := deref(p.Content)
	switch p.Type {
	case TypeMeta:
		return MetaEvent{Content: content, ChatID: deref(p.ChatID)}, nil
	case TypeThought:
		return ThoughtEvent{Content: content}, nil
	case TypeToolCall:
		return ToolCallEvent{Name: p.Name, Args: p.Args}, nil
	case TypeToolOutput:
		return ToolOutputEvent{Content: content}, nil
	case TypeAnswer:
		return AnswerEvent{Content: content}, nil
	default:
		return UnknownEvent{Type: p.Type}, nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

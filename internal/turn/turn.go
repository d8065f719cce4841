// ABOUTME: Conversation turn and step types shared by the streaming engine
// ABOUTME: Steps are a sealed variant: Reasoning, ToolCall, ToolResult

package turn

import "encoding/json"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Step is one reasoning, tool-call or tool-result record attached to a turn.
// The set of implementations is closed; switch on the concrete type.
type Step interface {
	isStep()
	Kind() string
}

// Reasoning is a thought the assistant emitted while working.
type Reasoning struct {
	Text string
}

// ToolCall is a tool invocation. Args is kept verbatim; its shape belongs to the tool.
type ToolCall struct {
	Name string
	Args json.RawMessage
}

// ToolResult is the output returned by a tool.
type ToolResult struct {
	Text string
}

func (Reasoning) isStep()  {}
func (ToolCall) isStep()   {}
func (ToolResult) isStep() {}

func (Reasoning) Kind() string  { return "reasoning" }
func (ToolCall) Kind() string   { return "tool_call" }
func (ToolResult) Kind() string { return "tool_result" }

// Turn is one conversational exchange unit.
type Turn struct {
	Role    Role
	Content string
	Steps   []Step
}

// Clone returns a deep copy safe to hand to observers.
func (t Turn) Clone() Turn {
	out := Turn{Role: t.Role, Content: t.Content}
	if t.Steps != nil {
		out.Steps = make([]Step, len(t.Steps))
		for i, s := range t.Steps {
			if tc, ok := s.(ToolCall); ok && tc.Args != nil {
				tc.Args = append(json.RawMessage(nil), tc.Args...)
				s = tc
			}
			out.Steps[i] = s
		}
	}
	return out
}

// ABOUTME: Turn accumulator folds stream events into one assistant turn
// ABOUTME: Content and steps only grow while streaming; the turn freezes at commit

package turn

import "errors"

// ErrCommitted is returned when an event arrives after the turn was frozen.
var ErrCommitted = errors.New("turn already committed")

// Accumulator is the mutable state of one assistant turn during streaming.
// It is owned by a single controller, which serializes calls.
type Accumulator struct {
	turn      Turn
	pendingID Deferred[string]
	hasID     bool
	metaSeen  bool
	committed bool
}

// NewAccumulator starts an empty assistant turn. hasConversationID tells the
// accumulator whether a server-assigned id should be captured from meta events.
func NewAccumulator(hasConversationID bool) *Accumulator {
	return &Accumulator{
		turn:  Turn{Role: RoleAssistant},
		hasID: hasConversationID,
	}
}

// Apply folds ev into the turn. It reports whether the turn changed, which is
// false only for ignored (unknown) events.
func (a *Accumulator) Apply(ev Event) (bool, error) {
	if a.committed {
		return false, ErrCommitted
	}

	switch e := ev.(type) {
	case MetaEvent:
		if !a.metaSeen {
			a.metaSeen = true
			if !a.hasID && e.ChatID != "" {
				a.pendingID.Raise(e.ChatID)
			}
		}
		a.turn.Steps = append(a.turn.Steps, Reasoning{Text: e.Content})
	case ThoughtEvent:
		a.turn.Steps = append(a.turn.Steps, Reasoning{Text: e.Content})
	case ToolCallEvent:
		a.turn.Steps = append(a.turn.Steps, ToolCall{Name: e.Name, Args: e.Args})
	case ToolOutputEvent:
		a.turn.Steps = append(a.turn.Steps, ToolResult{Text: e.Content})
	case AnswerEvent:
		a.turn.Content += e.Content
	case UnknownEvent:
		return false, nil
	default:
		return false, nil
	}
	return true, nil
}

// Snapshot returns a deep copy of the turn as it stands.
func (a *Accumulator) Snapshot() Turn {
	return a.turn.Clone()
}

// PendingID returns the conversation id raised during streaming, if any.
func (a *Accumulator) PendingID() *Deferred[string] {
	return &a.pendingID
}

// Committed reports whether the turn is frozen.
func (a *Accumulator) Committed() bool {
	return a.committed
}

// Commit freezes the turn and returns its final state.
func (a *Accumulator) Commit() Turn {
	a.committed = true
	return a.turn.Clone()
}

// Fail replaces the turn's content with msg, discards its steps and freezes it.
// A pending id raised before the failure stays pending; the server has already
// created that conversation.
func (a *Accumulator) Fail(msg string) Turn {
	a.turn.Content = msg
	a.turn.Steps = nil
	a.committed = true
	return a.turn.Clone()
}

// ABOUTME: Session state, conversation snapshot and update types
// ABOUTME: Updates are the unit observers receive as a turn streams in

package conversation

import (
	"errors"

	"github.com/2389/kbchat/internal/turn"
)

// ErrTurnInFlight is returned when a submission or navigation arrives while a
// turn is still being sent or streamed.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// State is the session's position in the turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCommitted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCommitted:
		return "committed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// busy reports whether a turn is in flight.
func (s State) busy() bool {
	return s == StateSending || s == StateStreaming
}

// Conversation is an ordered sequence of turns. ID is empty until the server
// assigns one.
type Conversation struct {
	ID    string
	Turns []turn.Turn
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := Conversation{ID: c.ID}
	if c.Turns != nil {
		out.Turns = make([]turn.Turn, len(c.Turns))
		for i, t := range c.Turns {
			out.Turns[i] = t.Clone()
		}
	}
	return out
}

// Update is published after every state change and every applied stream event.
// Index is the position of Turn within the conversation, or -1 when the update
// concerns the conversation as a whole (open, reset).
type Update struct {
	State          State
	ConversationID string
	Index          int
	Turn           turn.Turn
}

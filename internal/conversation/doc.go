// Package conversation drives a chat session against the assistant server.
//
// # Overview
//
// A Controller owns one conversation: an ordered list of turns and an id the
// server assigns on the first exchange. Send appends the user turn and an
// empty assistant placeholder, opens the event stream, and folds each decoded
// event into the placeholder until the stream ends.
//
// # Turn Lifecycle
//
//	Idle -> Sending -> Streaming -> Committed
//	           \           \
//	            +-> Error <-+  -> Idle
//
// Committed accepts a new submission exactly like Idle. A submission while a
// turn is Sending or Streaming returns ErrTurnInFlight.
//
// # Conversation Id
//
// The first meta event of a new conversation carries the server-assigned id.
// The id is held as a pending transition and applied only once the turn
// commits (or fails after the server created the conversation), after which
// OnConversationCreated runs exactly once. Observers never see the id while
// the turn is streaming.
//
// # Observing
//
// Every state change and applied event produces an Update holding a deep copy
// of the affected turn. Updates go to Options.OnUpdate synchronously and to
// Subscribe channels through a Broadcaster, which drops updates for
// subscribers whose 64-slot buffer is full.
//
// # Failures
//
//   - A rejected request or broken stream replaces the placeholder with an
//     "Error: ..." message, discards its steps and returns to Idle.
//   - A malformed stream record is logged and skipped.
//   - Cancelling ctx stops the stream without committing.
//   - A configured TranscriptStore records finished turns; its errors are
//     logged only.
package conversation

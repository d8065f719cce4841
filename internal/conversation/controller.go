// ABOUTME: Session controller drives one conversation's turns through the chat stream
// ABOUTME: Owns the turn lifecycle, applies the server-assigned id only after commit

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/kbchat/internal/client"
	"github.com/2389/kbchat/internal/sse"
	"github.com/2389/kbchat/internal/store"
	"github.com/2389/kbchat/internal/turn"
)

// ChatTransport opens the event stream for one submission.
type ChatTransport interface {
	OpenChat(ctx context.Context, req client.ChatRequest) (io.ReadCloser, error)
}

// HistoryLoader fetches a stored conversation's turns.
type HistoryLoader interface {
	GetMessages(ctx context.Context, chatID string) ([]client.Message, error)
}

// TranscriptStore receives finished turns.
type TranscriptStore interface {
	SaveTurn(ctx context.Context, rec *store.TurnRecord) error
}

// Options configures a Controller. All fields are optional.
type Options struct {
	Logger   *slog.Logger
	History  HistoryLoader
	Recorder TranscriptStore
	RAG      client.RAGConfig

	// OnConversationCreated runs once per new conversation, after the turn
	// that created it has committed.
	OnConversationCreated func(id string)

	// OnUpdate runs synchronously on the sending goroutine for every update,
	// before subscribers are notified.
	OnUpdate func(Update)
}

// Controller owns one chat session. Send serializes with itself through the
// turn state; every mutation happens under mu and observers only ever see
// snapshots.
type Controller struct {
	transport   ChatTransport
	history     HistoryLoader
	recorder    TranscriptStore
	broadcaster *Broadcaster
	onCreated   func(string)
	onUpdate    func(Update)
	logger      *slog.Logger

	mu    sync.Mutex
	state State
	conv  Conversation
	rag   client.RAGConfig
}

// New creates a controller for a fresh, id-less conversation.
func New(transport ChatTransport, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		transport:   transport,
		history:     opts.History,
		recorder:    opts.Recorder,
		broadcaster: NewBroadcaster(logger),
		onCreated:   opts.OnConversationCreated,
		onUpdate:    opts.OnUpdate,
		logger:      logger.With("component", "conversation"),
		rag:         opts.RAG.Clone(),
	}
}

// Send submits input as a user turn and streams the assistant's reply into a
// new turn. Blank input is ignored. The call returns when the turn commits,
// fails, or ctx is cancelled; in the last case the partial turn is left
// uncommitted and ctx.Err() is returned.
func (c *Controller) Send(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.conv.Turns = append(c.conv.Turns,
		turn.Turn{Role: turn.RoleUser, Content: input},
		turn.Turn{Role: turn.RoleAssistant},
	)
	idx := len(c.conv.Turns) - 1
	acc := turn.NewAccumulator(c.conv.ID != "")
	req := client.ChatRequest{
		Message:   input,
		ChatID:    c.conv.ID,
		RAGConfig: c.rag.Clone(),
	}
	c.state = StateSending
	u := c.updateLocked(idx)
	c.mu.Unlock()
	c.publish(u)

	c.logger.Debug("sending turn", "chat_id", req.ChatID, "turn_index", idx)

	body, err := c.transport.OpenChat(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return c.abort(ctx.Err())
		}
		return c.fail(ctx, idx, acc, err)
	}
	defer body.Close()

	c.setState(StateStreaming, idx)

	dec := sse.NewDecoder(body, sse.WithLogger(c.logger))
	for {
		if err := ctx.Err(); err != nil {
			return c.abort(err)
		}

		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return c.abort(ctx.Err())
			}
			return c.fail(ctx, idx, acc, fmt.Errorf("reading stream: %w", err))
		}

		ev, err := turn.ParseEvent(frame)
		if err != nil {
			c.logger.Warn("dropping malformed stream record", "error", err)
			continue
		}

		c.mu.Lock()
		changed, err := acc.Apply(ev)
		if err != nil || !changed {
			c.mu.Unlock()
			if unknown, ok := ev.(turn.UnknownEvent); ok {
				c.logger.Debug("ignoring stream event", "type", unknown.Type)
			}
			continue
		}
		c.conv.Turns[idx] = acc.Snapshot()
		u := c.updateLocked(idx)
		c.mu.Unlock()
		c.publish(u)
	}

	return c.commit(ctx, idx, acc)
}

// commit freezes the turn, then applies any pending conversation id.
func (c *Controller) commit(ctx context.Context, idx int, acc *turn.Accumulator) error {
	c.mu.Lock()
	c.conv.Turns[idx] = acc.Commit()
	c.state = StateCommitted
	created := c.applyPendingIDLocked(acc)
	u := c.updateLocked(idx)
	convID := c.conv.ID
	user, asst := c.conv.Turns[idx-1].Clone(), c.conv.Turns[idx].Clone()
	c.mu.Unlock()

	c.publish(u)
	c.logger.Info("turn committed",
		"chat_id", convID,
		"steps", len(asst.Steps),
		"answer_len", len(asst.Content))

	c.record(ctx, convID, user, asst, store.StatusComplete)
	if created != "" && c.onCreated != nil {
		c.onCreated(created)
	}
	return nil
}

// fail replaces the placeholder with an error message and returns to idle.
func (c *Controller) fail(ctx context.Context, idx int, acc *turn.Accumulator, cause error) error {
	c.mu.Lock()
	c.conv.Turns[idx] = acc.Fail("Error: " + cause.Error())
	c.state = StateError
	created := c.applyPendingIDLocked(acc)
	failed := c.updateLocked(idx)
	c.state = StateIdle
	idle := c.updateLocked(idx)
	convID := c.conv.ID
	user, asst := c.conv.Turns[idx-1].Clone(), c.conv.Turns[idx].Clone()
	c.mu.Unlock()

	c.publish(failed)
	c.publish(idle)
	c.logger.Error("turn failed", "chat_id", convID, "error", cause)

	c.record(ctx, convID, user, asst, store.StatusError)
	if created != "" && c.onCreated != nil {
		c.onCreated(created)
	}
	return fmt.Errorf("chat turn failed: %w", cause)
}

// abort stops without committing; the partial turn stays as it is.
func (c *Controller) abort(cause error) error {
	c.mu.Lock()
	c.state = StateIdle
	u := c.updateLocked(len(c.conv.Turns) - 1)
	c.mu.Unlock()

	c.publish(u)
	c.logger.Info("turn cancelled", "chat_id", u.ConversationID)
	return cause
}

// applyPendingIDLocked adopts the server-assigned id raised during streaming.
// It returns the id when this call created the conversation.
func (c *Controller) applyPendingIDLocked(acc *turn.Accumulator) string {
	var created string
	acc.PendingID().Apply(func(id string) {
		if c.conv.ID == "" {
			c.conv.ID = id
			created = id
		}
	})
	return created
}

// record appends a finished exchange to the transcript. Failures are logged
// and never reach the turn.
func (c *Controller) record(ctx context.Context, convID string, user, asst turn.Turn, status string) {
	if c.recorder == nil {
		return
	}
	if convID == "" {
		c.logger.Debug("not recording turn without conversation id")
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, rec := range []*store.TurnRecord{
		{ConversationID: convID, Turn: user, Status: store.StatusComplete},
		{ConversationID: convID, Turn: asst, Status: status},
	} {
		if err := c.recorder.SaveTurn(ctx, rec); err != nil {
			c.logger.Warn("failed to record turn", "chat_id", convID, "error", err)
			return
		}
	}
}

// Open replaces the session with a stored conversation.
func (c *Controller) Open(ctx context.Context, id string) error {
	if c.history == nil {
		return fmt.Errorf("no history source configured")
	}
	if id == "" {
		return fmt.Errorf("chat id is required")
	}
	if c.State().busy() {
		return ErrTurnInFlight
	}

	msgs, err := c.history.GetMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("opening chat %s: %w", id, err)
	}

	turns := make([]turn.Turn, 0, len(msgs))
	for _, m := range msgs {
		t, err := m.Turn()
		if err != nil {
			c.logger.Warn("keeping message without steps", "chat_id", id, "message_id", m.ID, "error", err)
		}
		turns = append(turns, t)
	}

	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.conv = Conversation{ID: id, Turns: turns}
	c.state = StateIdle
	u := c.updateLocked(-1)
	c.mu.Unlock()

	c.publish(u)
	c.logger.Debug("opened chat", "chat_id", id, "turns", len(turns))
	return nil
}

// Reset starts a new, id-less conversation.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.conv = Conversation{}
	c.state = StateIdle
	u := c.updateLocked(-1)
	c.mu.Unlock()

	c.publish(u)
	return nil
}

// SetRAG sets the retrieval options sent with later submissions.
func (c *Controller) SetRAG(cfg client.RAGConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rag = cfg.Clone()
}

// RAG returns the current retrieval options.
func (c *Controller) RAG() client.RAGConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rag.Clone()
}

// Snapshot returns a deep copy of the conversation.
func (c *Controller) Snapshot() Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel of updates until ctx is cancelled or the
// controller is closed. Slow subscribers miss updates rather than stall the stream.
func (c *Controller) Subscribe(ctx context.Context) <-chan Update {
	ch, _ := c.broadcaster.Subscribe(ctx)
	return ch
}

// Close releases subscribers.
func (c *Controller) Close() {
	c.broadcaster.Close()
}

func (c *Controller) setState(s State, idx int) {
	c.mu.Lock()
	c.state = s
	u := c.updateLocked(idx)
	c.mu.Unlock()
	c.publish(u)
}

func (c *Controller) updateLocked(idx int) Update {
	u := Update{State: c.state, ConversationID: c.conv.ID, Index: idx}
	if idx >= 0 && idx < len(c.conv.Turns) {
		u.Turn = c.conv.Turns[idx].Clone()
	}
	return u
}

func (c *Controller) publish(u Update) {
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
	c.broadcaster.Publish(u)
}

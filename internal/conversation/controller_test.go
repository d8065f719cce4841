// ABOUTME: Tests for the session Controller
// ABOUTME: Covers the turn lifecycle, deferred conversation id, failures, cancellation and recording

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/kbchat/internal/client"
	"github.com/2389/kbchat/internal/store"
	"github.com/2389/kbchat/internal/turn"
)

const fullStream = `data: {"type":"meta","content":"Plan","chat_id":"chat-42"}

data: {"type":"tool_call","name":"search","args":{"q":"x"}}

data: {"type":"tool_output","content":"result"}

data: {"type":"answer","content":"Hi"}

data: {"type":"answer","content":" there"}

data: [DONE]

`

// mockTransport implements ChatTransport for testing
type mockTransport struct {
	mu   sync.Mutex
	reqs []client.ChatRequest
	open func(ctx context.Context, req client.ChatRequest) (io.ReadCloser, error)
}

func (m *mockTransport) OpenChat(ctx context.Context, req client.ChatRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	return m.open(ctx, req)
}

func (m *mockTransport) requests() []client.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]client.ChatRequest(nil), m.reqs...)
}

func streaming(body string) *mockTransport {
	return &mockTransport{open: func(context.Context, client.ChatRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

// mockHistory implements HistoryLoader for testing
type mockHistory struct {
	msgs map[string][]client.Message
}

func (m *mockHistory) GetMessages(ctx context.Context, chatID string) ([]client.Message, error) {
	msgs, ok := m.msgs[chatID]
	if !ok {
		return nil, &client.APIError{StatusCode: 404, Message: "Chat not found"}
	}
	return msgs, nil
}

// recorder collects updates delivered through OnUpdate.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) add(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func TestController_BlankInputIssuesNoRequest(t *testing.T) {
	tr := streaming(fullStream)
	c := New(tr, Options{})

	for _, input := range []string{"", "   ", "\n\t"} {
		require.NoError(t, c.Send(t.Context(), input))
	}

	assert.Empty(t, tr.requests())
	assert.Empty(t, c.Snapshot().Turns)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_FullTurnOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var bodies []client.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		bodies = append(bodies, req)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// deliver in awkward chunks
		for i := 0; i < len(fullStream); i += 7 {
			end := min(i+7, len(fullStream))
			_, _ = io.WriteString(w, fullStream[i:end])
			flusher.Flush()
		}
	}))
	defer srv.Close()

	api, err := client.New(client.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	var created []string
	c := New(api, Options{
		RAG:                   client.RAGConfig{Enabled: true},
		OnConversationCreated: func(id string) { created = append(created, id) },
	})

	require.NoError(t, c.Send(t.Context(), "hello"))

	conv := c.Snapshot()
	assert.Equal(t, "chat-42", conv.ID)
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, turn.Turn{Role: turn.RoleUser, Content: "hello"}, conv.Turns[0])

	asst := conv.Turns[1]
	assert.Equal(t, turn.RoleAssistant, asst.Role)
	assert.Equal(t, "Hi there", asst.Content)
	require.Len(t, asst.Steps, 3)
	assert.Equal(t, turn.Reasoning{Text: "Plan"}, asst.Steps[0])
	assert.Equal(t, "search", asst.Steps[1].(turn.ToolCall).Name)
	assert.Equal(t, turn.ToolResult{Text: "result"}, asst.Steps[2])

	assert.Equal(t, StateCommitted, c.State())
	assert.Equal(t, []string{"chat-42"}, created)

	// the follow-up carries the id and does not announce a new conversation
	require.NoError(t, c.Send(t.Context(), "again"))
	assert.Equal(t, []string{"chat-42"}, created)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Empty(t, bodies[0].ChatID)
	assert.True(t, bodies[0].RAGConfig.Enabled)
	assert.Equal(t, "chat-42", bodies[1].ChatID)
}

func TestController_IDAppliedOnlyAfterCommit(t *testing.T) {
	rec := &recorder{}
	var c *Controller
	createdCalls := 0
	c = New(streaming(fullStream), Options{
		OnUpdate: rec.add,
		OnConversationCreated: func(id string) {
			createdCalls++
			assert.Equal(t, "chat-42", id)
			assert.Equal(t, StateCommitted, c.State(), "notified only after commit")
			assert.Equal(t, "chat-42", c.Snapshot().ID)
		},
	})

	require.NoError(t, c.Send(t.Context(), "hello"))
	assert.Equal(t, 1, createdCalls)

	updates := rec.all()
	require.NotEmpty(t, updates)
	for _, u := range updates[:len(updates)-1] {
		assert.Empty(t, u.ConversationID, "id must not be visible during %s", u.State)
		assert.NotEqual(t, StateCommitted, u.State)
	}
	last := updates[len(updates)-1]
	assert.Equal(t, StateCommitted, last.State)
	assert.Equal(t, "chat-42", last.ConversationID)
}

func TestController_UpdatesGrowMonotonically(t *testing.T) {
	rec := &recorder{}
	c := New(streaming(fullStream), Options{OnUpdate: rec.add})

	require.NoError(t, c.Send(t.Context(), "hello"))

	var states []State
	prevSteps, prevContent := 0, ""
	for _, u := range rec.all() {
		if len(states) == 0 || states[len(states)-1] != u.State {
			states = append(states, u.State)
		}
		assert.Equal(t, 1, u.Index)
		assert.GreaterOrEqual(t, len(u.Turn.Steps), prevSteps)
		assert.True(t, strings.HasPrefix(u.Turn.Content, prevContent))
		prevSteps, prevContent = len(u.Turn.Steps), u.Turn.Content
	}
	assert.Equal(t, []State{StateSending, StateStreaming, StateCommitted}, states)
}

func TestController_NonSuccessResponse(t *testing.T) {
	tr := &mockTransport{open: func(context.Context, client.ChatRequest) (io.ReadCloser, error) {
		return nil, &client.APIError{StatusCode: 500, Message: "model unavailable"}
	}}
	rec := &recorder{}
	created := false
	c := New(tr, Options{OnUpdate: rec.add, OnConversationCreated: func(string) { created = true }})

	err := c.Send(t.Context(), "hello")

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)

	conv := c.Snapshot()
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, "Error: server returned status 500: model unavailable", conv.Turns[1].Content)
	assert.Empty(t, conv.Turns[1].Steps)
	assert.Empty(t, conv.ID)
	assert.False(t, created)
	assert.Equal(t, StateIdle, c.State())

	var sawError bool
	for _, u := range rec.all() {
		sawError = sawError || u.State == StateError
	}
	assert.True(t, sawError)

	// a new submission is accepted after the failure
	tr.open = func(context.Context, client.ChatRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(fullStream)), nil
	}
	require.NoError(t, c.Send(t.Context(), "retry by hand"))
	assert.Len(t, c.Snapshot().Turns, 4)
}

func TestController_StreamErrorDiscardsPartialTurn(t *testing.T) {
	boom := errors.New("connection reset")
	tr := &mockTransport{open: func(context.Context, client.ChatRequest) (io.ReadCloser, error) {
		partial := strings.NewReader(`data: {"type":"meta","content":"Plan","chat_id":"chat-7"}` + "\n\n" +
			`data: {"type":"answer","content":"half"}` + "\n\n")
		return io.NopCloser(io.MultiReader(partial, errReader{boom})), nil
	}}
	var created []string
	c := New(tr, Options{OnConversationCreated: func(id string) { created = append(created, id) }})

	err := c.Send(t.Context(), "hello")
	assert.ErrorIs(t, err, boom)

	conv := c.Snapshot()
	asst := conv.Turns[1]
	assert.Equal(t, "Error: reading stream: connection reset", asst.Content)
	assert.Empty(t, asst.Steps)

	// the server created the conversation before failing; the id is still adopted
	assert.Equal(t, "chat-7", conv.ID)
	assert.Equal(t, []string{"chat-7"}, created)
	assert.Equal(t, StateIdle, c.State())
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestController_MalformedRecordIsDropped(t *testing.T) {
	stream := `data: {"type":"answer","content":"A"}

data: {"type":"answer","content":

data: {"type":"answer","content":"B"}

data: {"type":"usage","tokens":3}

data: [DONE]

`
	c := New(streaming(stream), Options{})

	require.NoError(t, c.Send(t.Context(), "hello"))
	assert.Equal(t, "AB", c.Snapshot().Turns[1].Content)
	assert.Equal(t, StateCommitted, c.State())
}

func TestController_CleanEOFWithoutDoneCommits(t *testing.T) {
	c := New(streaming(`data: {"type":"answer","content":"tail"}`), Options{})

	require.NoError(t, c.Send(t.Context(), "hello"))
	assert.Equal(t, "tail", c.Snapshot().Turns[1].Content)
	assert.Equal(t, StateCommitted, c.State())
}

// pipeTransport hands out a pipe whose writer the test controls.
func pipeTransport() (*mockTransport, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &mockTransport{open: func(context.Context, client.ChatRequest) (io.ReadCloser, error) {
		return pr, nil
	}}, pw
}

func TestController_CancellationLeavesTurnUncommitted(t *testing.T) {
	tr, pw := pipeTransport()
	got := make(chan Update, 16)
	created := false
	c := New(tr, Options{
		OnUpdate:              func(u Update) { got <- u },
		OnConversationCreated: func(string) { created = true },
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, "hello") }()

	_, _ = io.WriteString(pw, `data: {"type":"meta","content":"Plan","chat_id":"chat-9"}`+"\n\n"+`data: {"type":"answer","content":"partial"}`+"\n\n")
	waitFor(t, got, func(u Update) bool { return u.Turn.Content == "partial" })

	cancel()
	pw.CloseWithError(context.Canceled)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Send did not return after cancellation")
	}

	conv := c.Snapshot()
	assert.Equal(t, "partial", conv.Turns[1].Content)
	assert.Empty(t, conv.ID, "pending id is not applied without commit")
	assert.False(t, created)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_RejectsOverlappingSubmissions(t *testing.T) {
	tr, pw := pipeTransport()
	got := make(chan Update, 16)
	c := New(tr, Options{OnUpdate: func(u Update) { got <- u }})

	done := make(chan error, 1)
	go func() { done <- c.Send(t.Context(), "first") }()
	waitFor(t, got, func(u Update) bool { return u.State == StateStreaming })

	assert.ErrorIs(t, c.Send(t.Context(), "second"), ErrTurnInFlight)
	assert.ErrorIs(t, c.Reset(), ErrTurnInFlight)
	assert.Len(t, tr.requests(), 1)

	_, _ = io.WriteString(pw, "data: [DONE]\n\n")
	require.NoError(t, <-done)
	_ = pw.Close()
	assert.Len(t, c.Snapshot().Turns, 2)
}

func waitFor(t *testing.T, ch <-chan Update, match func(Update) bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case u := <-ch:
			if match(u) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
		}
	}
}

func TestController_OpenLoadsHistoryAndKeepsID(t *testing.T) {
	steps := `[{"type":"thought","content":"plan"},{"type":"tool_call","name":"search","args":{"q":"x"}}]`
	hist := &mockHistory{msgs: map[string][]client.Message{
		"chat-1": {
			{ID: "m1", Role: "user", Content: "earlier"},
			{ID: "m2", Role: "assistant", Content: "answer", ThoughtSteps: &steps},
		},
	}}
	created := false
	c := New(streaming(`data: {"type":"meta","content":"x","chat_id":"other"}`+"\n\ndata: [DONE]\n\n"), Options{
		History:               hist,
		OnConversationCreated: func(string) { created = true },
	})

	require.NoError(t, c.Open(t.Context(), "chat-1"))
	conv := c.Snapshot()
	assert.Equal(t, "chat-1", conv.ID)
	require.Len(t, conv.Turns, 2)
	assert.Len(t, conv.Turns[1].Steps, 2)

	require.NoError(t, c.Send(t.Context(), "more"))
	assert.Equal(t, "chat-1", c.Snapshot().ID, "existing conversation ignores meta chat_id")
	assert.False(t, created)

	err := c.Open(t.Context(), "missing")
	assert.True(t, client.IsNotFound(err))
	assert.Equal(t, "chat-1", c.Snapshot().ID, "failed open leaves the session alone")
}

func TestController_OpenWithoutHistory(t *testing.T) {
	c := New(streaming(""), Options{})
	assert.Error(t, c.Open(t.Context(), "chat-1"))
}

func TestController_ResetStartsNewConversation(t *testing.T) {
	c := New(streaming(fullStream), Options{})
	require.NoError(t, c.Send(t.Context(), "hello"))
	require.Equal(t, "chat-42", c.Snapshot().ID)

	require.NoError(t, c.Reset())
	assert.Equal(t, Conversation{}, c.Snapshot())
	assert.Equal(t, StateIdle, c.State())
}

func TestController_RAGSentWithRequest(t *testing.T) {
	tr := streaming("data: [DONE]\n\n")
	c := New(tr, Options{RAG: client.RAGConfig{Enabled: true}})

	ids := []string{"d1", "d2"}
	c.SetRAG(client.RAGConfig{Enabled: false, SelectedDocIDs: ids})
	ids[0] = "mutated"

	require.NoError(t, c.Send(t.Context(), "hello"))

	reqs := tr.requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].RAGConfig.Enabled)
	assert.Equal(t, []string{"d1", "d2"}, reqs[0].RAGConfig.SelectedDocIDs)
	assert.Equal(t, []string{"d1", "d2"}, c.RAG().SelectedDocIDs)
}

func TestController_RecordsFinishedTurns(t *testing.T) {
	ms := store.NewMockStore()
	c := New(streaming(fullStream), Options{Recorder: ms})

	require.NoError(t, c.Send(t.Context(), "hello"))

	turns, err := ms.ListTurns(context.Background(), "chat-42")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello", turns[0].Turn.Content)
	assert.Equal(t, "Hi there", turns[1].Turn.Content)
	assert.Equal(t, store.StatusComplete, turns[1].Status)
	assert.Len(t, turns[1].Turn.Steps, 3)
}

func TestController_RecorderFailureDoesNotAffectTurn(t *testing.T) {
	ms := store.NewMockStore()
	ms.FailWith(errors.New("disk full"))
	c := New(streaming(fullStream), Options{Recorder: ms})

	require.NoError(t, c.Send(t.Context(), "hello"))
	assert.Equal(t, "Hi there", c.Snapshot().Turns[1].Content)
	assert.Equal(t, StateCommitted, c.State())
}

func TestController_SubscribeReceivesUpdates(t *testing.T) {
	c := New(streaming(fullStream), Options{})
	defer c.Close()

	ch := c.Subscribe(t.Context())
	require.NoError(t, c.Send(t.Context(), "hello"))

	var last Update
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, StateCommitted, last.State)
	assert.Equal(t, "Hi there", last.Turn.Content)
}

func TestController_SnapshotIsIndependent(t *testing.T) {
	c := New(streaming(fullStream), Options{})
	require.NoError(t, c.Send(t.Context(), "hello"))

	snap := c.Snapshot()
	snap.Turns[1].Content = "tampered"
	snap.Turns = append(snap.Turns, turn.Turn{})

	fresh := c.Snapshot()
	assert.Len(t, fresh.Turns, 2)
	assert.Equal(t, "Hi there", fresh.Turns[1].Content)
}

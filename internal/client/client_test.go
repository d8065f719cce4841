// ABOUTME: Tests for the HTTP client against httptest servers
// ABOUTME: Covers request shapes, auth headers, error decoding and upload progress

package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/kbchat/internal/turn"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", Token: "secret"})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "   ", "ftp://example.com", "localhost:8000"} {
		_, err := New(Options{BaseURL: base})
		assert.Error(t, err, "base %q", base)
	}
}

func TestOpenChat_SendsBodyAndStreams(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))

	body, err := c.OpenChat(t.Context(), ChatRequest{
		Message:   "hello",
		RAGConfig: RAGConfig{Enabled: true},
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(data))

	assert.Equal(t, "hello", got["message"])
	_, hasChatID := got["chat_id"]
	assert.False(t, hasChatID, "new conversation omits chat_id")
	rag, ok := got["rag_config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, rag["enabled"])
	_, hasSelected := rag["selected_doc_ids"]
	assert.False(t, hasSelected, "empty selection omitted")
}

func TestOpenChat_IncludesChatIDAndSelection(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))

	body, err := c.OpenChat(t.Context(), ChatRequest{
		Message:   "again",
		ChatID:    "chat-1",
		RAGConfig: RAGConfig{Enabled: false, SelectedDocIDs: []string{"d1", "d2"}},
	})
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, "chat-1", got.ChatID)
	assert.False(t, got.RAGConfig.Enabled)
	assert.Equal(t, []string{"d1", "d2"}, got.RAGConfig.SelectedDocIDs)
}

func TestOpenChat_NonSuccessIsAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"detail":"model unavailable"}`)
	}))

	_, err := c.OpenChat(t.Context(), ChatRequest{Message: "x"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "model unavailable", apiErr.Message)
	assert.Equal(t, "server returned status 500: model unavailable", err.Error())
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail string", `{"detail":"Chat not found"}`, "Chat not found"},
		{"detail list", `{"detail":[{"msg":"field required"}]}`, `[{"msg":"field required"}]`},
		{"error field", `{"error":"boom"}`, "boom"},
		{"plain text", "Internal Server Error\n", "Internal Server Error"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
		})
	}
}

func TestGetMessages_ConvertsThoughtSteps(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/chat-7/messages", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"id":"m1","chat_id":"chat-7","role":"user","content":"hi","thought_steps":null,"created_at":"2025-03-01T10:00:00.123456"},
			{"id":"m2","chat_id":"chat-7","role":"assistant","content":"hello","created_at":"2025-03-01T10:00:02Z",
			 "thought_steps":"[{\"type\":\"thought\",\"content\":\"plan\"},{\"type\":\"tool_call\",\"name\":\"search\",\"args\":{\"q\":\"x\"}},{\"type\":\"tool_output\",\"content\":\"r\"}]"}
		]`)
	}))

	msgs, err := c.GetMessages(t.Context(), "chat-7")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 2025, msgs[0].CreatedAt.Year())

	user, err := msgs[0].Turn()
	require.NoError(t, err)
	assert.Equal(t, turn.Turn{Role: turn.RoleUser, Content: "hi"}, user)

	asst, err := msgs[1].Turn()
	require.NoError(t, err)
	require.Len(t, asst.Steps, 3)
	assert.Equal(t, turn.Reasoning{Text: "plan"}, asst.Steps[0])
	call := asst.Steps[1].(turn.ToolCall)
	assert.Equal(t, "search", call.Name)
	assert.JSONEq(t, `{"q":"x"}`, string(call.Args))
	assert.Equal(t, turn.ToolResult{Text: "r"}, asst.Steps[2])
}

func TestMessageTurn_MalformedStepsKeepsContent(t *testing.T) {
	bad := "not json"
	m := Message{ID: "m1", Role: "assistant", Content: "answer", ThoughtSteps: &bad}

	got, err := m.Turn()
	assert.Error(t, err)
	assert.Equal(t, "answer", got.Content)
	assert.Empty(t, got.Steps)
}

func TestDeleteChat_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Chat not found"}`)
	}))

	err := c.DeleteChat(t.Context(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestUploadFile_MultipartWithProgress(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 4096)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ingest/file", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.md", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, content, data)

		_, _ = io.WriteString(w, `{"message":"File ingested successfully","doc_id":"doc-1","chunks":3}`)
	}))

	var mu sync.Mutex
	var seen []int64
	res, err := c.UploadFile(t.Context(), "notes.md", bytes.NewReader(content), int64(len(content)), func(sent, total int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, int64(len(content)), total)
		seen = append(seen, sent)
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocID)
	assert.Equal(t, 3, res.Chunks)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, int64(len(content)), seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
}

func TestUploadFile_ServerRejects(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Unsupported file type"}`)
	}))

	_, err := c.UploadFile(t.Context(), "image.png", strings.NewReader("png"), 3, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Unsupported file type", apiErr.Message)
}

func TestUploadFile_ReadErrorAborts(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))

	boom := errors.New("disk gone")
	_, err := c.UploadFile(t.Context(), "a.txt", io.MultiReader(strings.NewReader("partial"), errReader{boom}), 100, nil)
	assert.Error(t, err)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestIngestURL_NumericDocID(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"message":"URL ingested successfully","doc_id":17,"length":1200,"chunks":2}`)
	}))

	res, err := c.IngestURL(t.Context(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got["url"])
	assert.Equal(t, "17", res.DocID)
	assert.Equal(t, 1200, res.Length)
}

func TestSettings_RoundTripAndConfigError(t *testing.T) {
	var stored Settings
	fail := false
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/settings", r.URL.Path)
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"detail":"disk full"}`)
			return
		}
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
			_, _ = io.WriteString(w, `{"message":"Settings updated"}`)
		case http.MethodGet:
			require.NoError(t, json.NewEncoder(w).Encode(stored))
		}
	}))

	want := Settings{OpenAIModel: "gpt-4o", EmbeddingModel: "text-embedding-3-small", ChunkSize: 1000, ChunkOverlap: 200}
	require.NoError(t, c.UpdateSettings(t.Context(), want))

	got, err := c.GetSettings(t.Context())
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	fail = true
	_, err = c.GetSettings(t.Context())
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "read", cfgErr.Op)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestSearch_SendsSelection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "go", req.Query)
		assert.Equal(t, 2, req.K)
		assert.Equal(t, []string{"d1"}, req.SelectedDocIDs)
		_, _ = io.WriteString(w, `[{"content":"chunk","metadata":{"doc_id":"d1"}}]`)
	}))

	res, err := c.Search(t.Context(), SearchRequest{Query: "go", K: 2, SelectedDocIDs: []string{"d1"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d1", res[0].Metadata["doc_id"])
	assert.Nil(t, res[0].Score)
}

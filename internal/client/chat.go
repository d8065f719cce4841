// ABOUTME: Chat stream request: posts a user message and returns the raw SSE body
// ABOUTME: The caller owns the body and feeds it to the frame decoder

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RAGConfig controls retrieval for a chat request.
type RAGConfig struct {
	Enabled        bool     `json:"enabled"`
	SelectedDocIDs []string `json:"selected_doc_ids,omitempty"`
}

// Clone returns a copy that does not share the id slice.
func (r RAGConfig) Clone() RAGConfig {
	out := RAGConfig{Enabled: r.Enabled}
	if len(r.SelectedDocIDs) > 0 {
		out.SelectedDocIDs = append([]string(nil), r.SelectedDocIDs...)
	}
	return out
}

// ChatRequest is the body of POST /api/chat/. ChatID is omitted for a new
// conversation; the server assigns one and reports it in the first meta event.
type ChatRequest struct {
	Message   string    `json:"message"`
	ChatID    string    `json:"chat_id,omitempty"`
	RAGConfig RAGConfig `json:"rag_config"`
}

// OpenChat sends req and returns the event stream body once the server has
// accepted it. A non-success status is returned as *APIError. The stream is
// bounded only by ctx.
func (c *Client) OpenChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat/", bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("opening chat stream", "chat_id", req.ChatID, "rag", req.RAGConfig.Enabled)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// ABOUTME: Assistant settings, global memory and retrieval search endpoints
// ABOUTME: Settings failures surface as *ConfigError

package client

import (
	"context"
	"net/http"
)

// Settings is the assistant's server-side configuration.
type Settings struct {
	OpenAIAPIKey   string `json:"openai_api_key"`
	OpenAIBaseURL  string `json:"openai_base_url"`
	OpenAIModel    string `json:"openai_model"`
	EmbeddingModel string `json:"embedding_model"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
}

// Memory is the global memory note the assistant carries across conversations.
type Memory struct {
	ID        int       `json:"id"`
	Content   string    `json:"content"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// SearchRequest is a direct retrieval query.
type SearchRequest struct {
	Query          string   `json:"query"`
	K              int      `json:"k,omitempty"`
	SelectedDocIDs []string `json:"selected_doc_ids,omitempty"`
}

// SearchResult is one retrieved chunk.
type SearchResult struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    *float64       `json:"score"`
}

// GetSettings reads the assistant settings.
func (c *Client) GetSettings(ctx context.Context) (*Settings, error) {
	var s Settings
	if err := c.doJSON(ctx, http.MethodGet, "/settings", nil, &s); err != nil {
		return nil, &ConfigError{Op: "read", Err: err}
	}
	return &s, nil
}

// UpdateSettings replaces the assistant settings. The server rebuilds its
// services afterwards.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) error {
	if err := c.doJSON(ctx, http.MethodPost, "/settings", s, nil); err != nil {
		return &ConfigError{Op: "write", Err: err}
	}
	return nil
}

func (c *Client) GetMemory(ctx context.Context) (*Memory, error) {
	var m Memory
	if err := c.doJSON(ctx, http.MethodGet, "/memory/", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) UpdateMemory(ctx context.Context, content string) (*Memory, error) {
	var m Memory
	body := map[string]string{"content": content}
	if err := c.doJSON(ctx, http.MethodPut, "/memory/", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Search runs a retrieval query without involving the assistant.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	var results []SearchResult
	if err := c.doJSON(ctx, http.MethodPost, "/retrieval/search", req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

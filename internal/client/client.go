// ABOUTME: HTTP client for the knowledge-base assistant server API
// ABOUTME: Shared request plumbing: base URL, bearer token, timeouts, error decoding

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds non-streaming requests.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 * 1024

// Options configures a Client.
type Options struct {
	BaseURL    string        // e.g. http://localhost:8000
	Token      string        // optional bearer token, forwarded as-is
	Timeout    time.Duration // for plain request/response calls; streams and uploads are unbounded
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the server's /api endpoints.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client. BaseURL is required.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", u.Scheme)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		token:   opts.Token,
		timeout: timeout,
		http:    httpClient,
		logger:  logger.With("component", "client"),
	}, nil
}

// BaseURL returns the server URL the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/api" + path
}

// newRequest builds a request with auth and content headers set.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON performs a bounded request/response call. in is encoded as the JSON
// body when non-nil; out receives the decoded JSON response when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// checkResponse turns a non-2xx response into an *APIError.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(data),
	}
}

// errorMessage extracts a readable message from an error body. The server
// uses {"detail": "..."}, sometimes {"error": "..."}.
func errorMessage(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		var detail string
		if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if len(body.Detail) > 0 && string(body.Detail) != "null" {
			return string(body.Detail)
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}

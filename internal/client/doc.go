// Package client implements the HTTP client for the knowledge-base assistant server.
//
// # Overview
//
// Every call goes to <base_url>/api. Plain request/response calls are bounded
// by the configured timeout; the chat stream and file uploads are bounded only
// by the caller's context. A configured token is sent as a bearer token.
//
// # Endpoints
//
//   - OpenChat: POST /chat/, returns the raw event stream body
//   - ListChats, GetMessages, DeleteChat: conversation history
//   - ListDocuments, DeleteDocument: the document list
//   - UploadFile: POST /ingest/file (multipart field "file") with byte progress
//   - IngestURL: POST /ingest/url
//   - GetSettings, UpdateSettings: assistant settings
//   - GetMemory, UpdateMemory: global memory note
//   - Search: direct retrieval query
//
// # Errors
//
// A non-success status is returned as *APIError carrying the server's detail
// message. Settings calls wrap failures in *ConfigError. Network errors are
// wrapped with context; nothing is retried.
//
// # Usage
//
//	c, err := client.New(client.Options{BaseURL: "http://localhost:8000"})
//	body, err := c.OpenChat(ctx, client.ChatRequest{Message: "hi", RAGConfig: client.RAGConfig{Enabled: true}})
//	defer body.Close()
package client

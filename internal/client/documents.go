// ABOUTME: Document endpoints: list, delete, file upload with progress, URL ingestion
// ABOUTME: Uploads stream a multipart body through a pipe and count bytes as they are read

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// Document is an ingested source in the knowledge base.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Type      string    `json:"type"` // "file" or "url"
	CreatedAt Timestamp `json:"created_at"`
}

// IngestResult is the server's acknowledgement of an ingestion.
type IngestResult struct {
	Message string `json:"message"`
	DocID   string `json:"doc_id"`
	Length  int    `json:"length"`
	Chunks  int    `json:"chunks"`
}

func (r *IngestResult) UnmarshalJSON(data []byte) error {
	type alias IngestResult
	var raw struct {
		alias
		DocID json.RawMessage `json:"doc_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = IngestResult(raw.alias)
	r.DocID = ""
	if len(raw.DocID) > 0 && string(raw.DocID) != "null" {
		var s string
		if err := json.Unmarshal(raw.DocID, &s); err == nil {
			r.DocID = s
		} else {
			r.DocID = string(raw.DocID)
		}
	}
	return nil
}

// ProgressFunc receives the number of file bytes sent so far and the total.
type ProgressFunc func(sent, total int64)

// ListDocuments returns every ingested document.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := c.doJSON(ctx, http.MethodGet, "/documents", nil, &docs); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and its indexed chunks.
func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	if docID == "" {
		return fmt.Errorf("document id is required")
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/documents/"+url.PathEscape(docID), nil, nil); err != nil {
		return fmt.Errorf("deleting document %s: %w", docID, err)
	}
	return nil
}

// IngestURL asks the server to fetch and index a web page.
func (c *Client) IngestURL(ctx context.Context, rawURL string) (*IngestResult, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	var res IngestResult
	body := map[string]string{"url": rawURL}
	if err := c.doJSON(ctx, http.MethodPost, "/ingest/url", body, &res); err != nil {
		return nil, fmt.Errorf("ingesting %s: %w", rawURL, err)
	}
	return &res, nil
}

// UploadFile sends r as multipart field "file" named name. progress, when
// non-nil and size is positive, is called as file bytes are consumed by the
// transport. Uploads are bounded only by ctx.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader, size int64, progress ProgressFunc) (*IngestResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := r
		if progress != nil && size > 0 {
			src = &countingReader{r: r, total: size, fn: progress}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/ingest/file", pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("uploading file", "name", name, "size", size)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", name, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", name, err)
	}

	var res IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("parsing upload response: %w", err)
	}
	return &res, nil
}

// countingReader reports cumulative bytes read.
type countingReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.sent += int64(n)
		cr.fn(cr.sent, cr.total)
	}
	return n, err
}

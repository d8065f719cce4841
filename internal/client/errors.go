// ABOUTME: Error types surfaced by the API client
// ABOUTME: APIError for rejected requests, ConfigError for settings failures

package client

import (
	"errors"
	"fmt"
)

// APIError is returned when the server answers with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// ConfigError wraps a failure reading or writing assistant settings.
type ConfigError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("settings %s failed: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

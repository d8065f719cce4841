// ABOUTME: Upload task, status variants and descriptors for the upload queue
// ABOUTME: Status is a closed set: Active, Failed, Done

package upload

import (
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// Kind distinguishes file uploads from URL ingestions.
type Kind int

const (
	KindFile Kind = iota
	KindURL
)

func (k Kind) String() string {
	if k == KindURL {
		return "url"
	}
	return "file"
}

// Status is a task's progress state. The set of implementations is closed.
type Status interface {
	isStatus()
}

// Active is a running task. Progress is 0..100 and never decreases.
// Indeterminate tasks (URL ingestions) have no progress signal.
type Active struct {
	Progress      int
	Indeterminate bool
}

// Failed is a task that errored. Progress is frozen at its last value.
type Failed struct {
	Progress int
	Err      error
}

// Done is a task that finished. It is only ever seen by OnDone, since a
// finished task leaves the queue immediately.
type Done struct{}

func (Active) isStatus() {}
func (Failed) isStatus() {}
func (Done) isStatus()   {}

// Task is one queued upload.
type Task struct {
	ID        string
	Name      string // display name; duplicates are allowed
	Kind      Kind
	Status    Status
	StartedAt time.Time
	DocID     string // set on success
}

// Progress returns the task's percentage and whether it is known.
func (t Task) Progress() (int, bool) {
	switch s := t.Status.(type) {
	case Active:
		return s.Progress, !s.Indeterminate
	case Failed:
		return s.Progress, t.Kind == KindFile
	case Done:
		return 100, true
	default:
		return 0, false
	}
}

// TaskError is the error carried by a Failed status.
type TaskError struct {
	TaskID string
	Name   string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("upload %q failed: %v", e.Name, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// OpenFunc supplies a file's contents and size in bytes.
type OpenFunc func() (io.ReadCloser, int64, error)

// Descriptor names what to upload: a local file (Path or Open) or a URL.
type Descriptor struct {
	Name string // display name; defaults to the path's base name or the URL
	Path string
	URL  string
	Open OpenFunc // overrides Path when set
}

// FileDescriptor describes a local file.
func FileDescriptor(path string) Descriptor {
	return Descriptor{Path: path}
}

// URLDescriptor describes a web page to ingest.
func URLDescriptor(url string) Descriptor {
	return Descriptor{URL: url}
}

func (d Descriptor) kind() Kind {
	if d.URL != "" && d.Path == "" && d.Open == nil {
		return KindURL
	}
	return KindFile
}

func (d Descriptor) displayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.kind() == KindURL:
		return d.URL
	case d.Path != "":
		return filepath.Base(d.Path)
	default:
		return "upload"
	}
}

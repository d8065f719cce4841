// ABOUTME: Upload queue manager runs each upload independently and tracks its progress
// ABOUTME: Finished tasks leave the queue at once; failed tasks linger for a grace window

package upload

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/2389/kbchat/internal/client"
)

// DefaultFailureGrace is how long a failed task stays visible.
const DefaultFailureGrace = 3 * time.Second

// Uploader performs the transfers.
type Uploader interface {
	UploadFile(ctx context.Context, name string, r io.Reader, size int64, progress client.ProgressFunc) (*client.IngestResult, error)
	IngestURL(ctx context.Context, rawURL string) (*client.IngestResult, error)
}

// Options configures a Manager.
type Options struct {
	Grace  time.Duration // failed-task display window; DefaultFailureGrace when zero
	Logger *slog.Logger

	// OnChange receives the task list after every mutation, in mutation order.
	// It must not call Enqueue.
	OnChange func([]Task)

	// OnDone runs after a task succeeds and has left the queue.
	OnDone func(Task)
}

// entry tracks a task and its position in insertion order.
type entry struct {
	task    Task
	element *list.Element
}

// Manager is a queue of independent uploads. Tasks keep insertion order.
type Manager struct {
	uploader Uploader
	grace    time.Duration
	onChange func([]Task)
	onDone   func(Task)
	logger   *slog.Logger

	notifyMu sync.Mutex // orders OnChange deliveries
	mu       sync.Mutex
	tasks    map[string]*entry
	order    *list.List // task IDs, oldest at front

	running conc.WaitGroup
	timers  sync.WaitGroup
}

// NewManager creates an empty queue.
func NewManager(uploader Uploader, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultFailureGrace
	}
	return &Manager{
		uploader: uploader,
		grace:    grace,
		onChange: opts.OnChange,
		onDone:   opts.OnDone,
		logger:   logger.With("component", "upload"),
		tasks:    make(map[string]*entry),
		order:    list.New(),
	}
}

// Enqueue adds a task and starts it on its own goroutine. It returns the task ID.
func (m *Manager) Enqueue(ctx context.Context, d Descriptor) string {
	t := Task{
		ID:        uuid.New().String(),
		Name:      d.displayName(),
		Kind:      d.kind(),
		StartedAt: time.Now(),
	}
	t.Status = Active{Indeterminate: t.Kind == KindURL}

	m.mutate(func() bool {
		m.tasks[t.ID] = &entry{task: t, element: m.order.PushBack(t.ID)}
		return true
	})

	m.logger.Debug("task queued", "task_id", t.ID, "name", t.Name, "kind", t.Kind)

	m.running.Go(func() { m.run(ctx, t, d) })
	return t.ID
}

// EnqueueFiles queues one independent task per path.
func (m *Manager) EnqueueFiles(ctx context.Context, paths ...string) []string {
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, m.Enqueue(ctx, FileDescriptor(p)))
	}
	return ids
}

// Tasks returns the queue in insertion order.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Wait blocks until every task has finished and every failed task has been evicted.
func (m *Manager) Wait() {
	m.running.Wait()
	m.timers.Wait()
}

func (m *Manager) run(ctx context.Context, t Task, d Descriptor) {
	var res *client.IngestResult
	var err error

	var pc panics.Catcher
	pc.Try(func() {
		res, err = m.perform(ctx, t, d)
	})
	if r := pc.Recovered(); r != nil {
		m.logger.Error("upload task panicked", "task_id", t.ID, "name", t.Name, "panic", r.Value)
		err = r.AsError()
	}

	if err != nil {
		m.fail(t, err)
		return
	}
	m.succeed(t, res)
}

func (m *Manager) perform(ctx context.Context, t Task, d Descriptor) (*client.IngestResult, error) {
	if t.Kind == KindURL {
		return m.uploader.IngestURL(ctx, d.URL)
	}

	open := d.Open
	if open == nil {
		open = func() (io.ReadCloser, int64, error) { return openFile(d.Path) }
	}
	r, size, err := open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return m.uploader.UploadFile(ctx, t.Name, r, size, func(sent, total int64) {
		m.progress(t.ID, sent, total)
	})
}

func openFile(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return f, info.Size(), nil
}

// percent converts a byte count to a whole percentage in 0..100.
func percent(sent, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(sent) * 100 / float64(total)))
	return min(max(p, 0), 100)
}

// progress raises an active task's percentage. Lower or equal values are ignored.
func (m *Manager) progress(id string, sent, total int64) {
	p := percent(sent, total)
	m.mutate(func() bool {
		e, ok := m.tasks[id]
		if !ok {
			return false
		}
		cur, ok := e.task.Status.(Active)
		if !ok || cur.Indeterminate || p <= cur.Progress {
			return false
		}
		e.task.Status = Active{Progress: p}
		return true
	})
}

func (m *Manager) succeed(t Task, res *client.IngestResult) {
	var done Task
	m.mutate(func() bool {
		e, ok := m.tasks[t.ID]
		if !ok {
			return false
		}
		done = e.task
		done.Status = Done{}
		if res != nil {
			done.DocID = res.DocID
		}
		m.removeLocked(e)
		return true
	})

	m.logger.Info("upload finished", "task_id", t.ID, "name", t.Name, "doc_id", done.DocID)
	if m.onDone != nil {
		m.onDone(done)
	}
}

func (m *Manager) fail(t Task, err error) {
	taskErr := &TaskError{TaskID: t.ID, Name: t.Name, Err: err}
	m.mutate(func() bool {
		e, ok := m.tasks[t.ID]
		if !ok {
			return false
		}
		frozen, _ := e.task.Progress()
		e.task.Status = Failed{Progress: frozen, Err: taskErr}
		return true
	})

	m.logger.Warn("upload failed", "task_id", t.ID, "name", t.Name, "error", err)

	m.timers.Add(1)
	time.AfterFunc(m.grace, func() {
		defer m.timers.Done()
		m.mutate(func() bool {
			e, ok := m.tasks[t.ID]
			if !ok {
				return false
			}
			m.removeLocked(e)
			return true
		})
		m.logger.Debug("failed task evicted", "task_id", t.ID)
	})
}

// mutate applies fn under the lock and, if it changed anything, delivers the
// resulting snapshot before any later mutation can deliver its own.
func (m *Manager) mutate(fn func() bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	changed := fn()
	var snap []Task
	if changed && m.onChange != nil {
		snap = m.snapshotLocked()
	}
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(snap)
	}
}

// removeLocked drops an entry. Must be called with mu held.
func (m *Manager) removeLocked(e *entry) {
	m.order.Remove(e.element)
	delete(m.tasks, e.task.ID)
}

func (m *Manager) snapshotLocked() []Task {
	out := make([]Task, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		id, _ := el.Value.(string)
		if e, ok := m.tasks[id]; ok {
			out = append(out, e.task)
		}
	}
	return out
}

// ABOUTME: Terminal rendering for turns, streamed updates, documents and upload tasks
// ABOUTME: streamRenderer prints each assistant turn incrementally as updates arrive

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/2389/kbchat/internal/client"
	"github.com/2389/kbchat/internal/conversation"
	"github.com/2389/kbchat/internal/turn"
	"github.com/2389/kbchat/internal/upload"
)

var (
	dim     = color.New(color.FgHiBlack)
	cyan    = color.New(color.FgCyan)
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed)
	boldRed = color.New(color.FgRed, color.Bold)
)

const (
	previewLimit = 80
	minPreview   = 8
)

// truncate collapses whitespace and shortens s to at most n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	n = max(n, minPreview)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func formatStep(s turn.Step) string {
	switch st := s.(type) {
	case turn.Reasoning:
		return "  · " + truncate(st.Text, previewLimit)
	case turn.ToolCall:
		args := ""
		if len(st.Args) > 0 {
			args = " " + truncate(string(st.Args), previewLimit-utf8.RuneCountInString(st.Name))
		}
		return "  ⚙ " + st.Name + args
	case turn.ToolResult:
		return "  ↳ " + truncate(st.Text, previewLimit)
	default:
		return "  ? " + s.Kind()
	}
}

// streamRenderer writes an assistant turn as it grows: new steps as dim
// lines, then answer text as it arrives. It is fed from the controller's
// OnUpdate hook.
type streamRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	index   int
	steps   int
	shown   string
	midLine bool
	done    bool
}

func newStreamRenderer(out io.Writer) *streamRenderer {
	return &streamRenderer{out: out, index: -1}
}

func (r *streamRenderer) Handle(u conversation.Update) {
	if u.Index < 0 || u.Turn.Role != turn.RoleAssistant {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if u.Index != r.index {
		r.index = u.Index
		r.steps = 0
		r.shown = ""
		r.midLine = false
		r.done = false
	}
	if r.done {
		return
	}

	if u.State == conversation.StateError {
		r.endLine()
		boldRed.Fprintln(r.out, u.Turn.Content)
		r.done = true
		return
	}

	if len(u.Turn.Steps) > r.steps {
		r.endLine()
		for _, s := range u.Turn.Steps[r.steps:] {
			dim.Fprintln(r.out, formatStep(s))
		}
		r.steps = len(u.Turn.Steps)
	}

	if delta, ok := strings.CutPrefix(u.Turn.Content, r.shown); ok && delta != "" {
		fmt.Fprint(r.out, delta)
		r.shown = u.Turn.Content
		r.midLine = !strings.HasSuffix(delta, "\n")
	}

	switch u.State {
	case conversation.StateCommitted:
		r.endLine()
		r.done = true
	case conversation.StateIdle:
		r.endLine()
		yellow.Fprintln(r.out, "[cancelled]")
		r.done = true
	}
}

func (r *streamRenderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

// printTurn writes a finished turn.
func printTurn(w io.Writer, t turn.Turn) {
	switch t.Role {
	case turn.RoleUser:
		cyan.Fprint(w, "you › ")
	case turn.RoleAssistant:
		green.Fprint(w, "assistant › ")
	default:
		dim.Fprintf(w, "%s › ", t.Role)
	}
	fmt.Fprintln(w)
	for _, s := range t.Steps {
		dim.Fprintln(w, formatStep(s))
	}
	if t.Content != "" {
		fmt.Fprintln(w, t.Content)
	}
}

func printChats(w io.Writer, chats []client.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No conversations")
		return
	}
	for _, c := range chats {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		cyan.Fprintf(w, "%6s  ", c.ID)
		fmt.Fprint(w, truncate(title, 50))
		dim.Fprintf(w, "  %s\n", formatTime(c.UpdatedAt.Time))
	}
}

func printDocuments(w io.Writer, docs []client.Document, selected []string) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents")
		return
	}
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}
	for _, d := range docs {
		mark := "  "
		if chosen[d.ID] {
			mark = green.Sprint("✓ ")
		}
		fmt.Fprint(w, mark)
		cyan.Fprintf(w, "%6s  ", d.ID)
		fmt.Fprint(w, truncate(d.Name, 50))
		dim.Fprintf(w, "  [%s] %s\n", d.Type, formatTime(d.CreatedAt.Time))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

const barWidth = 20

func formatTask(t upload.Task) string {
	switch s := t.Status.(type) {
	case upload.Active:
		if s.Indeterminate {
			return fmt.Sprintf("%s   ...  %s", strings.Repeat("·", barWidth), t.Name)
		}
		filled := s.Progress * barWidth / 100
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		return fmt.Sprintf("%s %3d%%  %s", bar, s.Progress, t.Name)
	case upload.Failed:
		return red.Sprintf("%3d%% failed  %v", s.Progress, s.Err)
	case upload.Done:
		return green.Sprintf("%s done  %s", strings.Repeat("█", barWidth), t.Name)
	default:
		return t.Name
	}
}

func printTasks(w io.Writer, tasks []upload.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No uploads in progress")
		return
	}
	for _, t := range tasks {
		fmt.Fprintln(w, formatTask(t))
	}
}

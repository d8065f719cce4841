// ABOUTME: Upload progress reporting shared by the REPL and the upload/ingest commands
// ABOUTME: Prints coarse progress steps, failures once, and completions with their doc ids

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/2389/kbchat/internal/upload"
)

// progressStep is the granularity of printed progress, in percent.
const progressStep = 25

// progressPrinter turns the manager's snapshots into a line-per-milestone log.
type progressPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	quiet    bool // only report completion and failure
	reported map[string]int
	failed   map[string]bool
	done     int
}

func newProgressPrinter(out io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{
		out:      out,
		quiet:    quiet,
		reported: make(map[string]int),
		failed:   make(map[string]bool),
	}
}

func (p *progressPrinter) changed(tasks []upload.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range tasks {
		switch s := t.Status.(type) {
		case upload.Failed:
			if !p.failed[t.ID] {
				p.failed[t.ID] = true
				fmt.Fprintln(p.out, formatTask(t))
			}
		case upload.Active:
			if p.quiet {
				continue
			}
			step := s.Progress / progressStep
			last, seen := p.reported[t.ID]
			if !seen || step > last {
				p.reported[t.ID] = step
				fmt.Fprintln(p.out, formatTask(t))
			}
		}
	}
}

func (p *progressPrinter) finished(t upload.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	green.Fprint(p.out, "✓ ")
	fmt.Fprintf(p.out, "%s", t.Name)
	if t.DocID != "" {
		dim.Fprintf(p.out, " → doc %s", t.DocID)
	}
	fmt.Fprintln(p.out)
}

func (p *progressPrinter) failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}

// newUploadManager wires a manager to a printer. extraDone, when set, runs
// after each success is printed.
func newUploadManager(p *progressPrinter, extraDone func(upload.Task)) *upload.Manager {
	return upload.NewManager(state.client, upload.Options{
		Grace:    state.cfg.Uploads.FailureGrace,
		Logger:   state.logger,
		OnChange: p.changed,
		OnDone: func(t upload.Task) {
			p.finished(t)
			if extraDone != nil {
				extraDone(t)
			}
		},
	})
}

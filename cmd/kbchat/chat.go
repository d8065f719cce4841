// ABOUTME: Interactive chat REPL driving a conversation controller and an upload queue
// ABOUTME: Answers stream to the terminal as they arrive; slash commands manage chats and documents

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/kbchat/internal/client"
	"github.com/2389/kbchat/internal/conversation"
	"github.com/2389/kbchat/internal/store"
	"github.com/2389/kbchat/internal/upload"
)

var chatFlags struct {
	chatID string
	noRAG  bool
	docs   []string
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&chatFlags.chatID, "chat", "", "resume an existing conversation")
	f.BoolVar(&chatFlags.noRAG, "no-rag", false, "answer without retrieving from documents")
	f.StringSliceVar(&chatFlags.docs, "doc", nil, "restrict retrieval to these document ids")
	rootCmd.AddCommand(chatCmd)
}

// session is one REPL run.
type session struct {
	out     io.Writer
	outMu   sync.Mutex
	ctrl    *conversation.Controller
	uploads *upload.Manager

	mu    sync.Mutex
	chats []client.Chat
	docs  []client.Document
}

func runChat(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{out: out}

	opts := conversation.Options{
		Logger:  state.logger,
		History: state.client,
		RAG: client.RAGConfig{
			Enabled:        state.cfg.Chat.RAGEnabled && !chatFlags.noRAG,
			SelectedDocIDs: chatFlags.docs,
		},
		OnUpdate: newStreamRenderer(out).Handle,
		OnConversationCreated: func(id string) {
			s.notice(dim, "conversation %s created", id)
			s.refreshChats(ctx)
		},
	}

	if state.cfg.Transcript.Enabled {
		ledger, err := store.NewSQLiteStore(state.cfg.Transcript.Path)
		if err != nil {
			state.logger.Warn("transcript disabled", "path", state.cfg.Transcript.Path, "error", err)
		} else {
			defer ledger.Close()
			opts.Recorder = ledger
		}
	}

	s.ctrl = conversation.New(state.client, opts)
	defer s.ctrl.Close()

	tallyCtx, stopTally := context.WithCancel(ctx)
	defer stopTally()
	tally := tallyTurns(s.ctrl.Subscribe(tallyCtx))

	p := newProgressPrinter(out, true)
	s.uploads = newUploadManager(p, func(upload.Task) {
		s.refreshDocs(ctx)
	})
	defer s.uploads.Wait()
	defer cancel() // stop in-flight uploads before waiting on them

	fmt.Fprintf(out, "kbchat connected to %s\n", state.client.BaseURL())
	if state.cfg.Token() == "" {
		dim.Fprintln(out, "Auth: none (set KBCHAT_TOKEN for authentication)")
	}
	fmt.Fprintln(out, "Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Fprintln(out)

	if chatFlags.chatID != "" {
		if err := s.open(ctx, chatFlags.chatID); err != nil {
			return err
		}
	}
	s.refreshDocs(ctx)

	if err := s.loop(ctx, bufio.NewScanner(in)); err != nil {
		return err
	}

	stopTally()
	fmt.Fprintln(out)
	dim.Fprintln(out, <-tally)
	fmt.Fprintln(out, "Goodbye!")
	return nil
}

// turnTally counts the turns a session finished.
type turnTally struct {
	answered int
	failed   int
}

func (t turnTally) String() string {
	return fmt.Sprintf("%d answered, %d failed", t.answered, t.failed)
}

// tallyTurns consumes a controller subscription and reports the totals once
// the subscription closes.
func tallyTurns(updates <-chan conversation.Update) <-chan turnTally {
	result := make(chan turnTally, 1)
	go func() {
		var t turnTally
		for u := range updates {
			switch u.State {
			case conversation.StateCommitted:
				t.answered++
			case conversation.StateError:
				t.failed++
			}
		}
		result <- t
	}()
	return result
}

func (s *session) loop(ctx context.Context, scanner *bufio.Scanner) error {
	for {
		s.prompt()

		input, err := readLine(ctx, scanner)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := s.command(ctx, input); quit {
				return nil
			}
			fmt.Fprintln(s.out)
			continue
		}

		err = s.ctrl.Send(ctx, input)
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrTurnInFlight):
			s.notice(yellow, "a reply is still streaming")
		case ctx.Err() != nil:
			return nil
		default:
			// the renderer has already shown the failure
			state.logger.Debug("turn failed", "error", err)
		}
		fmt.Fprintln(s.out)
	}
}

// readLine reads one line, giving up when ctx is cancelled.
func readLine(ctx context.Context, scanner *bufio.Scanner) (string, error) {
	inputCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		if scanner.Scan() {
			inputCh <- scanner.Text()
			return
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- io.EOF
		}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case input := <-inputCh:
		return input, nil
	}
}

func (s *session) prompt() {
	snap := s.ctrl.Snapshot()
	rag := s.ctrl.RAG()

	var tags []string
	if snap.ID != "" {
		tags = append(tags, "chat "+snap.ID)
	}
	switch {
	case !rag.Enabled:
		tags = append(tags, "no rag")
	case len(rag.SelectedDocIDs) > 0:
		tags = append(tags, fmt.Sprintf("%d docs", len(rag.SelectedDocIDs)))
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	if len(tags) > 0 {
		cyan.Fprintf(s.out, "[%s]", strings.Join(tags, ", "))
	}
	fmt.Fprint(s.out, "> ")
}

// notice prints a line that may arrive from a background goroutine.
func (s *session) notice(c *color.Color, format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	c.Fprintf(s.out, format+"\n", args...)
}

// command handles a slash command and reports whether the REPL should exit.
func (s *session) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	name, args := fields[0], fields[1:]

	var err error
	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		printHelp(s.out)
	case "/new":
		if err = s.ctrl.Reset(); err == nil {
			fmt.Fprintln(s.out, "Started a new conversation")
		}
	case "/open":
		if len(args) != 1 {
			err = errors.New("usage: /open ID")
			break
		}
		err = s.open(ctx, args[0])
	case "/chats":
		if err = s.refreshChats(ctx); err == nil {
			s.mu.Lock()
			printChats(s.out, s.chats)
			s.mu.Unlock()
		}
	case "/docs":
		if err = s.refreshDocs(ctx); err == nil {
			s.mu.Lock()
			printDocuments(s.out, s.docs, s.ctrl.RAG().SelectedDocIDs)
			s.mu.Unlock()
		}
	case "/select":
		rag := s.ctrl.RAG()
		rag.SelectedDocIDs = args
		s.ctrl.SetRAG(rag)
		if len(args) == 0 {
			fmt.Fprintln(s.out, "Retrieving from all documents")
		} else {
			fmt.Fprintf(s.out, "Retrieving from %d documents\n", len(args))
		}
	case "/rag":
		rag := s.ctrl.RAG()
		switch {
		case len(args) == 1 && args[0] == "on":
			rag.Enabled = true
		case len(args) == 1 && args[0] == "off":
			rag.Enabled = false
		default:
			err = errors.New("usage: /rag on|off")
		}
		if err == nil {
			s.ctrl.SetRAG(rag)
			if rag.Enabled {
				fmt.Fprintln(s.out, "Retrieval on")
			} else {
				fmt.Fprintln(s.out, "Retrieval off")
			}
		}
	case "/upload":
		if len(args) == 0 {
			err = errors.New("usage: /upload PATH...")
			break
		}
		ids := s.uploads.EnqueueFiles(ctx, args...)
		fmt.Fprintf(s.out, "Queued %d uploads. /uploads shows progress.\n", len(ids))
	case "/ingest":
		if len(args) != 1 {
			err = errors.New("usage: /ingest URL")
			break
		}
		if err = checkURL(args[0]); err == nil {
			s.uploads.Enqueue(ctx, upload.URLDescriptor(args[0]))
			fmt.Fprintln(s.out, "Queued. /uploads shows progress.")
		}
	case "/uploads":
		printTasks(s.out, s.uploads.Tasks())
	default:
		err = fmt.Errorf("unknown command %s, try /help", name)
	}

	if err != nil {
		if errors.Is(err, conversation.ErrTurnInFlight) {
			err = errors.New("wait for the current reply to finish")
		}
		red.Fprintf(s.out, "[error] %v\n", err)
	}
	return false
}

func (s *session) open(ctx context.Context, id string) error {
	if err := s.ctrl.Open(ctx, id); err != nil {
		return err
	}
	snap := s.ctrl.Snapshot()
	for _, t := range snap.Turns {
		printTurn(s.out, t)
	}
	dim.Fprintf(s.out, "opened conversation %s (%d turns)\n", id, len(snap.Turns))
	return nil
}

func (s *session) refreshChats(ctx context.Context) error {
	chats, err := state.client.ListChats(ctx)
	if err != nil {
		state.logger.Warn("refreshing conversations", "error", err)
		return err
	}
	s.mu.Lock()
	s.chats = chats
	s.mu.Unlock()
	return nil
}

func (s *session) refreshDocs(ctx context.Context) error {
	docs, err := state.client.ListDocuments(ctx)
	if err != nil {
		state.logger.Warn("refreshing documents", "error", err)
		return err
	}
	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()
	return nil
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  /new             Start a new conversation")
	fmt.Fprintln(w, "  /open <id>       Load a stored conversation")
	fmt.Fprintln(w, "  /chats           List conversations")
	fmt.Fprintln(w, "  /docs            List documents (✓ = selected)")
	fmt.Fprintln(w, "  /select <id>...  Retrieve only from these documents")
	fmt.Fprintln(w, "  /select          Retrieve from all documents")
	fmt.Fprintln(w, "  /rag on|off      Toggle retrieval")
	fmt.Fprintln(w, "  /upload <path>.. Upload files")
	fmt.Fprintln(w, "  /ingest <url>    Ingest a web page")
	fmt.Fprintln(w, "  /uploads         Show upload progress")
	fmt.Fprintln(w, "  /help            Show this help")
	fmt.Fprintln(w, "  /quit            Exit")
}

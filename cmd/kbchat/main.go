// ABOUTME: Entry point for kbchat, a terminal client for the knowledge-base assistant
// ABOUTME: Builds the cobra command tree and the shared config, logger and client

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/kbchat/internal/client"
	"github.com/2389/kbchat/internal/config"
)

// Version is set at build time.
var version = "dev"

// app carries what every command needs once the config has been loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client *client.Client
}

var (
	flagServer   string
	flagLogLevel string
	state        app
)

var rootCmd = &cobra.Command{
	Use:   "kbchat",
	Short: "Chat with your knowledge-base assistant",
	Long: `kbchat talks to a knowledge-base assistant server: stream chat turns,
manage conversations and documents, and upload files for retrieval.

Examples:
  kbchat chat                         # interactive session
  kbchat chat --chat 42 --doc 7       # resume chat 42, retrieve from doc 7 only
  kbchat upload notes.md paper.pdf    # ingest local files
  kbchat ingest https://example.com   # ingest a web page`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return state.load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "assistant server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

func (a *app) load() error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flagServer != "" {
		cfg.Server.BaseURL = flagServer
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.cfg = cfg
	a.logger = setupLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(a.logger)

	a.client, err = client.New(client.Options{
		BaseURL: cfg.Server.BaseURL,
		Token:   cfg.Token(),
		Timeout: cfg.Server.RequestTimeout,
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	return nil
}

func main() {
	// Setup context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

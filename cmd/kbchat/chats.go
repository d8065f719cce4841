// ABOUTME: Conversation commands: list, delete and show server history, and browse or prune the local transcript
// ABOUTME: The transcript ledger is the SQLite file recorded by chat sessions

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/kbchat/internal/store"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chats, err := state.client.ListChats(cmd.Context())
		if err != nil {
			return err
		}
		printChats(cmd.OutOrStdout(), chats)
		return nil
	},
}

var chatsRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := state.client.DeleteChat(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history ID",
	Short: "Show a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := state.client.GetMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No messages")
			return nil
		}
		for _, m := range msgs {
			t, err := m.Turn()
			if err != nil {
				state.logger.Warn("message steps unreadable", "message_id", m.ID, "error", err)
			}
			printTurn(out, t)
			fmt.Fprintln(out)
		}
		return nil
	},
}

var transcriptLimit int

var transcriptCmd = &cobra.Command{
	Use:   "transcript [ID]",
	Short: "Browse turns recorded locally by chat sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := state.cfg.Transcript.Path
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "No transcript recorded yet")
			return nil
		}

		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("opening transcript: %w", err)
		}
		defer s.Close()

		if len(args) == 0 {
			return listTranscript(cmd, s)
		}
		return showTranscript(cmd, s, args[0])
	},
}

var transcriptRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a conversation from the local transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := state.cfg.Transcript.Path
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no recorded conversation %s", args[0])
		}

		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("opening transcript: %w", err)
		}
		defer s.Close()
		return removeTranscript(cmd, s, args[0])
	},
}

func init() {
	chatsCmd.AddCommand(chatsRmCmd)
	transcriptCmd.AddCommand(transcriptRmCmd)
	transcriptCmd.Flags().IntVarP(&transcriptLimit, "limit", "n", 20, "number of conversations to list")
	rootCmd.AddCommand(chatsCmd, historyCmd, transcriptCmd)
}

func listTranscript(cmd *cobra.Command, s store.Store) error {
	convs, err := s.ListConversations(cmd.Context(), transcriptLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations recorded")
		return nil
	}
	for _, c := range convs {
		cyan.Fprintf(out, "%6s  ", c.ID)
		fmt.Fprint(out, truncate(c.Title, 50))
		dim.Fprintf(out, "  %d turns  %s\n", c.TurnCount, formatTime(c.UpdatedAt))
	}
	return nil
}

func removeTranscript(cmd *cobra.Command, s store.Store, id string) error {
	if err := s.DeleteConversation(cmd.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no recorded conversation %s", id)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed conversation %s from the transcript\n", id)
	return nil
}

func showTranscript(cmd *cobra.Command, s store.Store, id string) error {
	if _, err := s.GetConversation(cmd.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no recorded conversation %s", id)
		}
		return err
	}
	recs, err := s.ListTurns(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, rec := range recs {
		dim.Fprintf(out, "%s", formatTime(rec.CreatedAt))
		if rec.Status == store.StatusError {
			red.Fprint(out, "  failed")
		}
		fmt.Fprintln(out)
		printTurn(out, rec.Turn)
		fmt.Fprintln(out)
	}
	return nil
}

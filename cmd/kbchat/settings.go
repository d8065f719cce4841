// ABOUTME: Assistant settings, global memory and direct retrieval search commands
// ABOUTME: settings prints the current values, or updates only the flags given

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/kbchat/internal/client"
)

var settingsFlags struct {
	model          string
	apiKey         string
	baseURL        string
	embeddingModel string
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the assistant's model settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := state.client.GetSettings(ctx)
		if err != nil {
			return err
		}

		f := cmd.Flags()
		changed := false
		if f.Changed("model") {
			s.OpenAIModel, changed = settingsFlags.model, true
		}
		if f.Changed("api-key") {
			s.OpenAIAPIKey, changed = settingsFlags.apiKey, true
		}
		if f.Changed("base-url") {
			s.OpenAIBaseURL, changed = settingsFlags.baseURL, true
		}
		if f.Changed("embedding-model") {
			s.EmbeddingModel, changed = settingsFlags.embeddingModel, true
		}

		if changed {
			if err := state.client.UpdateSettings(ctx, *s); err != nil {
				return err
			}
			green.Fprintln(cmd.OutOrStdout(), "Settings updated")
		}
		printSettings(cmd, s)
		return nil
	},
}

func printSettings(cmd *cobra.Command, s *client.Settings) {
	out := cmd.OutOrStdout()
	row := func(k, v string) {
		dim.Fprintf(out, "%-16s", k)
		fmt.Fprintln(out, v)
	}
	row("model", s.OpenAIModel)
	row("base url", s.OpenAIBaseURL)
	row("api key", maskSecret(s.OpenAIAPIKey))
	row("embedding model", s.EmbeddingModel)
	row("chunk size", fmt.Sprint(s.ChunkSize))
	row("chunk overlap", fmt.Sprint(s.ChunkOverlap))
}

// maskSecret keeps the last four characters of a key.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Show the assistant's global memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := state.client.GetMemory(cmd.Context())
		if err != nil {
			return err
		}
		printMemory(cmd, m)
		return nil
	},
}

var memorySetCmd = &cobra.Command{
	Use:   "set TEXT",
	Short: "Replace the assistant's global memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := state.client.UpdateMemory(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		printMemory(cmd, m)
		return nil
	},
}

func printMemory(cmd *cobra.Command, m *client.Memory) {
	out := cmd.OutOrStdout()
	if m.Content == "" {
		fmt.Fprintln(out, "(empty)")
	} else {
		fmt.Fprintln(out, m.Content)
	}
	if !m.UpdatedAt.IsZero() {
		dim.Fprintf(out, "updated %s\n", formatTime(m.UpdatedAt.Time))
	}
}

var searchFlags struct {
	k    int
	docs []string
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Retrieve matching chunks without asking the assistant",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := state.client.Search(cmd.Context(), client.SearchRequest{
			Query:          strings.Join(args, " "),
			K:              searchFlags.k,
			SelectedDocIDs: searchFlags.docs,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No matches")
			return nil
		}
		for i, r := range results {
			cyan.Fprintf(out, "%d. ", i+1)
			if r.Score != nil {
				dim.Fprintf(out, "(%.3f) ", *r.Score)
			}
			if src, ok := r.Metadata["source"].(string); ok {
				dim.Fprint(out, src)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "   "+truncate(r.Content, 200))
		}
		return nil
	},
}

func init() {
	f := settingsCmd.Flags()
	f.StringVar(&settingsFlags.model, "model", "", "chat model name")
	f.StringVar(&settingsFlags.apiKey, "api-key", "", "API key for the model provider")
	f.StringVar(&settingsFlags.baseURL, "base-url", "", "model provider base URL")
	f.StringVar(&settingsFlags.embeddingModel, "embedding-model", "", "embedding model name")

	searchCmd.Flags().IntVarP(&searchFlags.k, "top", "k", 5, "number of chunks to return")
	searchCmd.Flags().StringSliceVar(&searchFlags.docs, "doc", nil, "restrict to these document ids")

	memoryCmd.AddCommand(memorySetCmd)
	rootCmd.AddCommand(settingsCmd, memoryCmd, searchCmd)
}

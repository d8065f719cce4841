// ABOUTME: Document commands: list, delete, upload files and ingest URLs
// ABOUTME: Uploads run through the upload queue so each file succeeds or fails on its own

package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/2389/kbchat/internal/upload"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List documents in the knowledge base",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := state.client.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		printDocuments(cmd.OutOrStdout(), docs, nil)
		return nil
	},
}

var docsRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := state.client.DeleteDocument(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %s\n", args[0])
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload PATH...",
	Short: "Upload local files for ingestion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploads(cmd, func(m *upload.Manager) []string {
			return m.EnqueueFiles(cmd.Context(), args...)
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest URL...",
	Short: "Ingest web pages by URL",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, raw := range args {
			if err := checkURL(raw); err != nil {
				return err
			}
		}
		return runUploads(cmd, func(m *upload.Manager) []string {
			ids := make([]string, 0, len(args))
			for _, raw := range args {
				ids = append(ids, m.Enqueue(cmd.Context(), upload.URLDescriptor(raw)))
			}
			return ids
		})
	},
}

func init() {
	docsCmd.AddCommand(docsRmCmd)
	rootCmd.AddCommand(docsCmd, uploadCmd, ingestCmd)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("not an http(s) URL: %q", raw)
	}
	return nil
}

// runUploads enqueues through enqueue, waits for every task, and reports
// how many failed.
func runUploads(cmd *cobra.Command, enqueue func(*upload.Manager) []string) error {
	p := newProgressPrinter(cmd.OutOrStdout(), false)
	m := newUploadManager(p, nil)

	ids := enqueue(m)
	m.Wait()

	if n := p.failures(); n > 0 {
		return fmt.Errorf("%d of %d uploads failed", n, len(ids))
	}
	return nil
}

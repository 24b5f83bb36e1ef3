package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/watcher"
)

func (c *cli) ragCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Manage reference documents used to ground answers",
	}
	cmd.AddCommand(c.ragAddCmd(), c.ragSearchCmd(), c.ragListCmd(), c.ragDeleteCmd())
	return cmd
}

func (c *cli) ragAddCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add [file]",
		Short: "Index a reference document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			res, err := c.svc.RAGAddFile(cmd.Context(), id, filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, res); ok {
				return err
			}
			cmd.Printf("Indexed %s: %d chunks", res.DocumentID, res.ChunkCount)
			if res.Skipped > 0 {
				cmd.Printf(", %d skipped", res.Skipped)
			}
			cmd.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id, generated when empty")
	return cmd
}

func (c *cli) ragSearchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Find the reference chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := c.svc.RAGSearch(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, results); ok {
				return err
			}
			if len(results) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, r := range results {
				cmd.Printf("  [%d] %s (%.3f)\n", i+1, r.ChunkID, r.Score)
				cmd.Printf("      %s\n", snippet(r.Text, 160))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 0, "number of results, defaults to the configured top-k")
	return cmd
}

func (c *cli) ragListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reference documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := c.svc.RAGList(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, docs); ok {
				return err
			}
			if len(docs) == 0 {
				cmd.Println("No reference documents.")
				return nil
			}
			for _, d := range docs {
				cmd.Printf("  %s  %3d chunks  %s\n", d.ID, d.ChunkCount, d.Filename)
			}
			return nil
		},
	}
}

func (c *cli) ragDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id]",
		Short: "Remove a reference document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.svc.RAGDelete(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var extensions []string
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Keep a folder of reference documents indexed until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.svc.RAGEnabled() {
				return rag.ErrDisabled
			}
			w, err := watcher.New(c.svc.Retrieval(), c.svc.Extractor(), extensions, logger.FromContext(cmd.Context()))
			if err != nil {
				return err
			}
			defer w.Close()

			cmd.Printf("Watching %s, press Ctrl+C to stop\n", args[0])
			if err := w.Run(cmd.Context(), args[0]); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "file extensions to index (default .pdf,.txt,.md)")
	return cmd
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

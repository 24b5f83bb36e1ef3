package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-agent/internal/pipeline"
)

func (c *cli) uploadCmd() *cobra.Command {
	var process bool
	cmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Store a financial document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			doc, err := c.svc.Upload(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			if !process {
				if ok, err := c.printJSON(cmd, doc); ok {
					return err
				}
				cmd.Printf("Uploaded %s as %s (%d bytes)\n", doc.Filename, doc.ID, doc.SizeBytes)
				return nil
			}

			res, err := c.svc.Process(cmd.Context(), doc.ID)
			if err != nil {
				return err
			}
			return c.printAnalysis(cmd, res)
		},
	}
	cmd.Flags().BoolVarP(&process, "process", "p", false, "analyze the document right after upload")
	return cmd
}

func (c *cli) processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [document-id...]",
		Short: "Analyze stored documents",
		Long: `Extracts text, classifies and analyzes each document, replacing the
ledger entries it produced before. Several documents run concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				res, err := c.svc.Process(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printAnalysis(cmd, res)
			}

			results, err := c.svc.ProcessMany(cmd.Context(), args)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, results); ok {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					cmd.Printf("  %s  failed: %v\n", r.DocumentID, r.Err)
					continue
				}
				cmd.Printf("  %s  %s, %d entries\n", r.DocumentID, r.Result.DocumentType, r.Result.EntriesCreated)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(results))
			}
			return nil
		},
	}
}

func (c *cli) printAnalysis(cmd *cobra.Command, res *pipeline.AnalysisResult) error {
	if ok, err := c.printJSON(cmd, res); ok {
		return err
	}
	cmd.Printf("Document %s: %s, %d ledger entries\n", res.DocumentID, res.DocumentType, res.EntriesCreated)
	if res.TextReused {
		cmd.Println("  (reused previously extracted text)")
	}
	for _, insight := range res.Insights {
		cmd.Printf("  - %s\n", insight)
	}
	return nil
}

func (c *cli) documentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "documents [document-id]",
		Aliases: []string{"docs"},
		Short:   "List documents or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				doc, err := c.svc.GetDocument(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ok, err := c.printJSON(cmd, doc); ok {
					return err
				}
				cmd.Printf("ID:       %s\n", doc.ID)
				cmd.Printf("File:     %s\n", doc.Filename)
				cmd.Printf("Type:     %s\n", doc.DocumentType)
				cmd.Printf("Status:   %s\n", doc.Status)
				if doc.FailureReason != "" {
					cmd.Printf("Failure:  %s\n", doc.FailureReason)
				}
				cmd.Printf("Uploaded: %s\n", doc.CreatedAt.Format("2006-01-02 15:04"))
				return nil
			}

			docs, err := c.svc.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, docs); ok {
				return err
			}
			if len(docs) == 0 {
				cmd.Println("No documents.")
				return nil
			}
			for _, d := range docs {
				cmd.Printf("  %s  %-10s  %-14s  %s\n", d.ID, d.Status, d.DocumentType, d.Filename)
			}
			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id]",
		Short: "Delete a document, its file and its ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.svc.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

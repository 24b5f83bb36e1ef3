package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-agent/internal/api/handlers"
	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/config"
	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/pipeline"
	"github.com/dvloznov/finance-agent/internal/rag"
)

// service is the part of the application the commands drive.
type service interface {
	handlers.DocumentService
	handlers.ProfileService
	handlers.ChatService
	handlers.RAGService
	ProcessMany(ctx context.Context, documentIDs []string) ([]pipeline.BatchResult, error)
	RAGEnabled() bool
	Retrieval() *rag.Store
	Extractor() pipeline.TextExtractor
	Close() error
}

// opener builds the service once a command has parsed its flags.
type opener func(ctx context.Context) (service, error)

type cli struct {
	open    opener
	svc     service
	jsonOut bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, closeService := newRootCmd(openFromConfig)
	err := root.ExecuteContext(ctx)
	if cerr := closeService(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openFromConfig(ctx context.Context) (service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewFromConfig(cfg.App.LogLevel, cfg.App.LogFormat)
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd builds the command tree. The returned func closes the service
// if a command opened one; cobra skips post-run hooks after a failed RunE.
func newRootCmd(open opener) (*cobra.Command, func() error) {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "finance-agent",
		Short: "Analyze financial documents and ask questions about your money",
		Long: `finance-agent extracts text from statements, turns it into ledger
entries with a language model and answers questions about the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.svc != nil || !needsService(cmd) {
				return nil
			}
			svc, err := c.open(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			c.svc = svc
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "output results as JSON")

	root.AddCommand(
		c.uploadCmd(),
		c.processCmd(),
		c.documentsCmd(),
		c.deleteCmd(),
		c.entriesCmd(),
		c.addEntryCmd(),
		c.profileCmd(),
		c.trendCmd(),
		c.spendingCmd(),
		c.chatCmd(),
		c.historyCmd(),
		c.ragCmd(),
		c.watchCmd(),
	)

	closeService := func() error {
		if c.svc == nil {
			return nil
		}
		err := c.svc.Close()
		c.svc = nil
		return err
	}
	return root, closeService
}

// needsService is false for the built-in help and completion commands.
func needsService(cmd *cobra.Command) bool {
	if cmd.Name() == "help" {
		return false
	}
	if cmd.HasParent() && cmd.Parent().Name() == "completion" {
		return false
	}
	return cmd.Name() != "completion"
}

// printJSON writes v indented when --json is set and reports whether it did.
func (c *cli) printJSON(cmd *cobra.Command, v any) (bool, error) {
	if !c.jsonOut {
		return false, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return true, fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return true, nil
}

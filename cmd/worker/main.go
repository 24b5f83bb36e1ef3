package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/config"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/jobs"
	"github.com/dvloznov/finance-agent/internal/logger"
)

// backlog is the part of the application the worker drains.
type backlog interface {
	ListDocuments(ctx context.Context) ([]*domain.Document, error)
	Enqueue(ctx context.Context, documentID string) (*jobs.ProcessDocumentJob, error)
	Job(ctx context.Context, jobID string) (*jobs.ProcessDocumentJob, error)
}

type options struct {
	RetryFailed  bool
	PollInterval time.Duration
}

type summary struct {
	Enqueued  int
	Completed int
	Failed    int
}

func main() {
	retryFailed := flag.Bool("retry-failed", false, "also reprocess documents whose last run failed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewFromConfig(cfg.App.LogLevel, cfg.App.LogFormat)

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting worker")
	sum, runErr := run(ctx, svc, options{RetryFailed: *retryFailed, PollInterval: 200 * time.Millisecond}, log)

	// Stop the queue and wait for in-flight jobs
	if err := svc.Close(); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("Worker stopped early")
		os.Exit(1)
	}
	log.Info().
		Int("enqueued", sum.Enqueued).
		Int("completed", sum.Completed).
		Int("failed", sum.Failed).
		Msg("Worker exited")
	if sum.Failed > 0 {
		os.Exit(2)
	}
}

// run enqueues every document waiting for analysis and blocks until each job
// reaches a terminal status.
func run(ctx context.Context, svc backlog, opts options, log zerolog.Logger) (summary, error) {
	var sum summary

	docs, err := svc.ListDocuments(ctx)
	if err != nil {
		return sum, fmt.Errorf("listing documents: %w", err)
	}

	pending := make(map[string]string)
	for _, d := range docs {
		if d.Status != domain.StatusPending && !(opts.RetryFailed && d.Status == domain.StatusFailed) {
			continue
		}
		job, err := svc.Enqueue(ctx, d.ID)
		if err != nil {
			return sum, fmt.Errorf("enqueueing %s: %w", d.ID, err)
		}
		log.Info().
			Str("job_id", job.JobID).
			Str("document_id", d.ID).
			Str("filename", d.Filename).
			Msg("Processing job enqueued")
		pending[job.JobID] = d.ID
		sum.Enqueued++
	}

	if len(pending) == 0 {
		log.Info().Msg("No documents waiting for analysis")
		return sum, nil
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return sum, ctx.Err()
		case <-ticker.C:
		}

		for jobID, docID := range pending {
			job, err := svc.Job(ctx, jobID)
			if err != nil {
				return sum, fmt.Errorf("loading job %s: %w", jobID, err)
			}
			switch job.Status {
			case jobs.JobStatusCompleted:
				sum.Completed++
				log.Info().
					Str("job_id", jobID).
					Str("document_id", docID).
					Int("entries_created", job.EntriesCreated).
					Msg("Document processed")
			case jobs.JobStatusFailed:
				sum.Failed++
				log.Error().
					Str("job_id", jobID).
					Str("document_id", docID).
					Int("retry_count", job.RetryCount).
					Str("error", job.Error).
					Msg("Document processing failed")
			default:
				continue
			}
			delete(pending, jobID)
		}
	}
	return sum, nil
}

// Package pipeline turns uploaded documents into ledger entries: fetch,
// extract, classify, structured-extract, stage and commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/store"
)

const (
	// DefaultConcurrency bounds ProcessMany fan-out.
	DefaultConcurrency = 4

	failureWriteTimeout = 10 * time.Second
)

// AnalysisResult is returned for a successfully processed document.
type AnalysisResult struct {
	DocumentID     string                     `json:"document_id"`
	DocumentType   domain.DocumentType        `json:"document_type"`
	Status         domain.DocumentStatus      `json:"status"`
	Analysis       *domain.StructuredAnalysis `json:"analysis"`
	EntriesCreated int                        `json:"entries_created"`
	TextReused     bool                       `json:"text_reused"`
	Insights       []string                   `json:"insights"`
}

// BatchResult is the outcome of one document in ProcessMany.
type BatchResult struct {
	DocumentID string          `json:"document_id"`
	Result     *AnalysisResult `json:"result,omitempty"`
	Err        error           `json:"-"`
}

// Deps are the collaborators a Processor needs.
type Deps struct {
	Documents  store.DocumentRepository
	Files      FileSource
	Extractor  TextExtractor
	Classifier Classifier
	Analyzer   Analyzer
}

// Options tune a Processor. Zero values use defaults.
type Options struct {
	Concurrency int
	Now         func() time.Time
	NewID       func() string
}

// Processor runs the document pipeline with single-flight per document.
type Processor struct {
	deps        Deps
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string
	concurrency int
	locks       *keyedMutex
}

// NewProcessor creates a Processor.
func NewProcessor(deps Deps, opts Options, log zerolog.Logger) *Processor {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Processor{
		deps:        deps,
		log:         log,
		now:         opts.Now,
		newID:       opts.NewID,
		concurrency: opts.Concurrency,
		locks:       newKeyedMutex(),
	}
}

func (p *Processor) pipeline() *Pipeline {
	return NewPipeline(
		&FetchFileStep{Files: p.deps.Files},
		&ExtractTextStep{Extractor: p.deps.Extractor},
		&ClassifyStep{Classifier: p.deps.Classifier, Log: p.log},
		&PreserveTextStep{Documents: p.deps.Documents},
		&AnalyzeStep{Analyzer: p.deps.Analyzer},
		&StageEntriesStep{Now: p.now, NewID: p.newID},
		&CommitStep{Documents: p.deps.Documents},
	)
}

// Process runs the pipeline for one document. A second concurrent call for
// the same document fails with store.ErrAlreadyProcessing. Any failure after
// the claim, cancellation included, leaves the document failed.
func (p *Processor) Process(ctx context.Context, documentID string) (*AnalysisResult, error) {
	unlock, ok := p.locks.TryLock(documentID)
	if !ok {
		return nil, fmt.Errorf("Process: %s: %w", documentID, store.ErrAlreadyProcessing)
	}
	defer unlock()

	log := logger.WithDocument(p.log, documentID)

	doc, err := p.deps.Documents.ClaimProcessing(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("Process: claim: %w", err)
	}

	start := p.now()
	log.Info().Str("filename", doc.Filename).Msg("processing document")

	state := &PipelineState{Document: doc}
	if err := p.pipeline().Execute(ctx, state); err != nil {
		p.markFailed(ctx, log, documentID, err)
		return nil, fmt.Errorf("Process: %w", err)
	}

	log.Info().
		Str("document_type", string(state.DocumentType)).
		Int("entries", len(state.Entries)).
		Bool("text_reused", state.TextReused).
		Dur("duration", p.now().Sub(start)).
		Msg("document processed")

	return &AnalysisResult{
		DocumentID:     documentID,
		DocumentType:   state.DocumentType,
		Status:         domain.StatusProcessed,
		Analysis:       state.Analysis,
		EntriesCreated: len(state.Entries),
		TextReused:     state.TextReused,
		Insights:       Insights(state.Analysis),
	}, nil
}

// ProcessMany processes documents with bounded parallelism. One document's
// failure does not stop the others. Results are in input order.
func (p *Processor) ProcessMany(ctx context.Context, documentIDs []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(documentIDs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, id := range documentIDs {
		i, id := i, id
		g.Go(func() error {
			res, err := p.Process(ctx, id)
			results[i] = BatchResult{DocumentID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("ProcessMany: %w", err)
	}
	return results, nil
}

// markFailed records the failure with a context detached from cancellation
// so the document never stays in processing.
func (p *Processor) markFailed(ctx context.Context, log zerolog.Logger, documentID string, cause error) {
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		reason = "processing cancelled: " + reason
	}
	reason = domain.ClampFailureReason(reason)

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if err := p.deps.Documents.FailProcessing(failCtx, documentID, reason); err != nil {
		log.Error().Err(err).Msg("failed to record processing failure")
		return
	}
	log.Error().Err(cause).Msg("document processing failed")
}

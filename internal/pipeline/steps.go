package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/classify"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

// PipelineStep represents a single step in document processing.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Document     *domain.Document
	FileBytes    []byte
	Text         string
	TextReused   bool
	DocumentType domain.DocumentType
	Analysis     *domain.StructuredAnalysis
	Entries      []*domain.LedgerEntry
}

// Step 1: FetchFileStep loads the stored file unless extracted text from an
// earlier attempt can be reused.
type FetchFileStep struct {
	Files FileSource
}

func (s *FetchFileStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Document.ExtractedText != "" {
		return nil
	}
	data, err := s.Files.Get(ctx, state.Document.StoragePath)
	if err != nil {
		return fmt.Errorf("fetching file: %w", err)
	}
	state.FileBytes = data
	return nil
}

// Step 2: ExtractTextStep extracts text or reuses the preserved text.
type ExtractTextStep struct {
	Extractor TextExtractor
}

func (s *ExtractTextStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Document.ExtractedText != "" {
		state.Text = state.Document.ExtractedText
		state.TextReused = true
		return nil
	}
	text, err := s.Extractor.Extract(ctx, state.FileBytes)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}
	state.Text = text
	return nil
}

// Step 3: ClassifyStep labels the text. An ambiguous result falls back to
// domain.TypeOther and processing continues.
type ClassifyStep struct {
	Classifier Classifier
	Log        zerolog.Logger
}

func (s *ClassifyStep) Execute(ctx context.Context, state *PipelineState) error {
	docType, err := s.Classifier.Classify(state.Text)
	if err != nil {
		if !errors.Is(err, classify.ErrClassificationAmbiguous) {
			return fmt.Errorf("classifying: %w", err)
		}
		s.Log.Info().Str("document_id", state.Document.ID).Msg("document type ambiguous, using other")
	}
	state.DocumentType = docType
	return nil
}

// Step 4: PreserveTextStep stores the extracted text so a retry can skip
// extraction.
type PreserveTextStep struct {
	Documents store.DocumentRepository
}

func (s *PreserveTextStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.Documents.SaveExtractedText(ctx, state.Document.ID, state.Text, state.DocumentType); err != nil {
		return fmt.Errorf("preserving text: %w", err)
	}
	return nil
}

// Step 5: AnalyzeStep asks the model for a structured analysis.
type AnalyzeStep struct {
	Analyzer Analyzer
}

func (s *AnalyzeStep) Execute(ctx context.Context, state *PipelineState) error {
	analysis, err := s.Analyzer.ExtractStructured(ctx, state.Text, state.DocumentType)
	if err != nil {
		return fmt.Errorf("structured extraction: %w", err)
	}
	state.Analysis = analysis
	return nil
}

// Step 6: StageEntriesStep converts the analysis into ledger entries.
type StageEntriesStep struct {
	Now   func() time.Time
	NewID func() string
}

func (s *StageEntriesStep) Execute(ctx context.Context, state *PipelineState) error {
	entries, err := StageEntries(state.Document.ID, state.Analysis, s.Now(), s.NewID)
	if err != nil {
		return fmt.Errorf("staging entries: %w", err)
	}
	state.Entries = entries
	return nil
}

// Step 7: CommitStep replaces the document's entries and marks it processed
// in one storage transaction.
type CommitStep struct {
	Documents store.DocumentRepository
}

func (s *CommitStep) Execute(ctx context.Context, state *PipelineState) error {
	payload, err := json.Marshal(state.Analysis)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}
	if err := s.Documents.CommitProcessing(ctx, state.Document.ID, payload, state.Entries); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{
		steps: steps,
	}
}

// Execute runs all steps in sequence, stopping at the first error or when
// the context is cancelled between steps.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d cancelled: %w", i+1, err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

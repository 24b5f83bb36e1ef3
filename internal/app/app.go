// Package app wires the pipeline, profile, retrieval and chat components
// into the facade used by the HTTP API and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-agent/internal/chat"
	"github.com/dvloznov/finance-agent/internal/classify"
	"github.com/dvloznov/finance-agent/internal/config"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/filestore"
	"github.com/dvloznov/finance-agent/internal/jobs"
	"github.com/dvloznov/finance-agent/internal/jobs/inmemory"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/pipeline"
	"github.com/dvloznov/finance-agent/internal/profile"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

var (
	// ErrEmptyUpload is returned when an uploaded file has no bytes.
	ErrEmptyUpload = errors.New("uploaded file is empty")
	// ErrInvalidEntry is returned for a manual entry that breaks the sign
	// convention or lacks a category.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// ProviderFactory builds a language model provider from settings.
type ProviderFactory func(ctx context.Context, settings config.LLM) (llm.Provider, error)

// Deps are the backends an App runs on. Build assembles them from config;
// tests pass their own.
type Deps struct {
	Store     store.Store
	Files     filestore.FileStore
	Extractor pipeline.TextExtractor
	Provider  llm.Provider
	Index     rag.Index
	Embedder  rag.Embedder
	Closers   []io.Closer
}

// Options tune the components. Zero values use each component's defaults.
type Options struct {
	LLM         llm.Options
	Pipeline    pipeline.Options
	Profile     profile.Options
	RAG         rag.Options
	Chat        chat.Options
	Jobs        inmemory.Options
	NewProvider ProviderFactory
	Now         func() time.Time
	NewID       func() string

	// StaleProcessingAfter is how long a document may sit in processing
	// before New treats the claim as abandoned and fails it.
	StaleProcessingAfter time.Duration
}

// DefaultStaleProcessingAfter is used when StaleProcessingAfter is zero.
const DefaultStaleProcessingAfter = 30 * time.Minute

const staleRecoveryTimeout = 30 * time.Second

// App is the facade over the finance core.
type App struct {
	store     store.Store
	files     filestore.FileStore
	extractor pipeline.TextExtractor
	gateway   *gatewayHolder
	processor *pipeline.Processor
	profile   *profile.Aggregator
	rag       *rag.Store
	chat      *chat.Orchestrator
	queue     *inmemory.Queue
	jobStore  *inmemory.Store
	closers   []io.Closer
	opts      Options
	log       zerolog.Logger

	stopWorkers context.CancelFunc
}

// New assembles an App from ready backends and starts the job workers.
func New(deps Deps, opts Options, log zerolog.Logger) (*App, error) {
	if deps.Store == nil || deps.Files == nil || deps.Extractor == nil || deps.Provider == nil {
		return nil, fmt.Errorf("New: store, files, extractor and provider are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.StaleProcessingAfter <= 0 {
		opts.StaleProcessingAfter = DefaultStaleProcessingAfter
	}
	if opts.Pipeline.Now == nil {
		opts.Pipeline.Now = opts.Now
	}
	if opts.Pipeline.NewID == nil {
		opts.Pipeline.NewID = opts.NewID
	}
	if opts.Profile.Now == nil {
		opts.Profile.Now = opts.Now
	}
	if opts.Chat.Now == nil {
		opts.Chat.Now = opts.Now
	}
	if opts.Chat.NewID == nil {
		opts.Chat.NewID = opts.NewID
	}

	gw := newGatewayHolder(llm.NewGateway(deps.Provider, opts.LLM, log))

	index := deps.Index
	if index == nil {
		index = rag.NewMemoryIndex()
	}
	ragStore := rag.New(index, deps.Embedder, opts.RAG, log)

	agg := profile.New(deps.Store, opts.Profile, log)

	a := &App{
		store:     deps.Store,
		files:     deps.Files,
		extractor: deps.Extractor,
		gateway:   gw,
		processor: pipeline.NewProcessor(pipeline.Deps{
			Documents:  deps.Store,
			Files:      deps.Files,
			Extractor:  deps.Extractor,
			Classifier: classify.New(nil, 0),
			Analyzer:   gw,
		}, opts.Pipeline, log),
		profile:  agg,
		rag:      ragStore,
		chat:     chat.New(agg, ragStore, gw, deps.Store, opts.Chat, log),
		jobStore: inmemory.NewStore(),
		closers:  deps.Closers,
		opts:     opts,
		log:      log,
	}

	a.recoverStaleClaims()

	a.queue = inmemory.NewQueue(opts.Jobs, a.jobStore, log)
	workerCtx, cancel := context.WithCancel(context.Background())
	a.stopWorkers = cancel
	if err := a.queue.Start(workerCtx, a.handleJob); err != nil {
		cancel()
		return nil, fmt.Errorf("New: starting job queue: %w", err)
	}

	return a, nil
}

// recoverStaleClaims fails documents whose processing claim outlived
// StaleProcessingAfter so they can be reprocessed or deleted.
func (a *App) recoverStaleClaims() {
	ctx, cancel := context.WithTimeout(context.Background(), staleRecoveryTimeout)
	defer cancel()

	cutoff := a.opts.Now().Add(-a.opts.StaleProcessingAfter)
	reason := fmt.Sprintf("processing abandoned: no progress since before %s", cutoff.UTC().Format(time.RFC3339))
	n, err := a.store.RecoverStaleProcessing(ctx, cutoff, reason)
	if err != nil {
		a.log.Warn().Err(err).Msg("recovering stale processing claims failed")
		return
	}
	if n > 0 {
		a.log.Warn().Int("documents", n).Dur("stale_after", a.opts.StaleProcessingAfter).Msg("stale processing claims marked failed")
	}
}

// Upload stores the file and records a pending document.
func (a *App) Upload(ctx context.Context, filename string, data []byte) (*domain.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("Upload: %w", ErrEmptyUpload)
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "upload"
	}

	id := a.opts.NewID()
	path, err := a.files.Put(ctx, filestore.ObjectKey(id, filename), data)
	if err != nil {
		return nil, fmt.Errorf("Upload: storing file: %w", err)
	}

	now := a.opts.Now().UTC()
	doc := &domain.Document{
		ID:          id,
		Filename:    filename,
		StoragePath: path,
		MIMEType:    mimetype.Detect(data).String(),
		SizeBytes:   int64(len(data)),
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateDocument(ctx, doc); err != nil {
		if delErr := a.files.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			a.log.Warn().Err(delErr).Str("storage_path", path).Msg("removing orphaned upload failed")
		}
		return nil, fmt.Errorf("Upload: %w", err)
	}

	logger.WithDocument(a.log, id).Info().
		Str("filename", filename).
		Str("mime_type", doc.MIMEType).
		Int64("size_bytes", doc.SizeBytes).
		Msg("document uploaded")
	return doc, nil
}

// Process runs the pipeline for one document synchronously.
func (a *App) Process(ctx context.Context, documentID string) (*pipeline.AnalysisResult, error) {
	return a.processor.Process(ctx, documentID)
}

// ProcessMany processes several documents with bounded parallelism.
func (a *App) ProcessMany(ctx context.Context, documentIDs []string) ([]pipeline.BatchResult, error) {
	return a.processor.ProcessMany(ctx, documentIDs)
}

// Enqueue schedules background processing and returns the job.
func (a *App) Enqueue(ctx context.Context, documentID string) (*jobs.ProcessDocumentJob, error) {
	if _, err := a.store.GetDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("Enqueue: %w", err)
	}
	job := &jobs.ProcessDocumentJob{
		JobID:      a.opts.NewID(),
		DocumentID: documentID,
		CreatedAt:  a.opts.Now().UTC(),
	}
	if err := a.queue.PublishProcessDocument(ctx, job); err != nil {
		return nil, fmt.Errorf("Enqueue: %w", err)
	}
	return a.jobStore.GetJob(ctx, job.JobID)
}

// Job returns the current state of a background job.
func (a *App) Job(ctx context.Context, jobID string) (*jobs.ProcessDocumentJob, error) {
	return a.jobStore.GetJob(ctx, jobID)
}

// Jobs lists background jobs, oldest first.
func (a *App) Jobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ProcessDocumentJob, error) {
	return a.jobStore.ListJobs(ctx, filter)
}

// handleJob runs one queued job. Only transient provider errors are retried.
func (a *App) handleJob(ctx context.Context, job *jobs.ProcessDocumentJob) error {
	res, err := a.processor.Process(ctx, job.DocumentID)
	if err != nil {
		if llm.IsRetryable(err) {
			return err
		}
		return jobs.Permanent(err)
	}
	job.EntriesCreated = res.EntriesCreated
	return nil
}

// GetDocument returns one document.
func (a *App) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return a.store.GetDocument(ctx, id)
}

// ListDocuments returns all documents, newest first.
func (a *App) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	return a.store.ListDocuments(ctx)
}

// DeleteDocument removes the document, every ledger entry it sourced and the
// stored file. A document that is being processed cannot be deleted.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	doc, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteDocument: %w", err)
	}
	if doc.Status == domain.StatusProcessing {
		return fmt.Errorf("DeleteDocument: %s: %w", id, store.ErrAlreadyProcessing)
	}

	if err := a.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("DeleteDocument: %w", err)
	}

	if err := a.files.Delete(ctx, doc.StoragePath); err != nil && !errors.Is(err, filestore.ErrNotFound) {
		a.log.Warn().Err(err).Str("document_id", id).Str("storage_path", doc.StoragePath).Msg("deleting stored file failed")
	}

	logger.WithDocument(a.log, id).Info().Msg("document deleted")
	return nil
}

// ManualEntry is a hand-entered ledger fact.
type ManualEntry struct {
	Category    domain.Category `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
}

// AddEntry records a manual ledger entry. Manual entries survive document
// reprocessing.
func (a *App) AddEntry(ctx context.Context, m ManualEntry) (*domain.LedgerEntry, error) {
	if err := validateManual(m); err != nil {
		return nil, fmt.Errorf("AddEntry: %w", err)
	}
	date := m.Date
	if date.IsZero() {
		date = a.opts.Now()
	}
	e := &domain.LedgerEntry{
		ID:          a.opts.NewID(),
		Category:    m.Category,
		Subcategory: m.Subcategory,
		Amount:      m.Amount,
		Date:        date.UTC(),
		Description: m.Description,
		CreatedAt:   a.opts.Now().UTC(),
	}
	if err := a.store.AddEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("AddEntry: %w", err)
	}
	return e, nil
}

func validateManual(m ManualEntry) error {
	if !m.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEntry, m.Category)
	}
	if err := domain.CheckSign(m.Category, m.Amount); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	return nil
}

// Entries lists ledger entries, newest first.
func (a *App) Entries(ctx context.Context, f store.LedgerFilter) ([]*domain.LedgerEntry, error) {
	return a.store.ListEntries(ctx, f)
}

// ProfileSummary computes the full financial profile.
func (a *App) ProfileSummary(ctx context.Context) (*domain.FinancialProfile, error) {
	return a.profile.Summary(ctx)
}

// SpendingTrend returns monthly expense totals per subcategory.
func (a *App) SpendingTrend(ctx context.Context, months int) (map[string][]float64, error) {
	return a.profile.SpendingTrend(ctx, months)
}

// SpendingByPeriod returns daily spending over the last days.
func (a *App) SpendingByPeriod(ctx context.Context, days int) (*profile.SpendingPeriod, error) {
	return a.profile.SpendingByPeriod(ctx, days)
}

// Chat answers a question about the user's finances.
func (a *App) Chat(ctx context.Context, question string) (*chat.Response, error) {
	return a.chat.Ask(ctx, question)
}

// ChatHistory returns recent exchanges, oldest first.
func (a *App) ChatHistory(ctx context.Context, limit int) ([]*domain.ChatExchange, error) {
	return a.chat.History(ctx, limit)
}

// RAGEnabled reports whether an embedding provider is configured.
func (a *App) RAGEnabled() bool { return a.rag.Enabled() }

// RAGAdd indexes a reference document from text.
func (a *App) RAGAdd(ctx context.Context, id, filename, text string) (*rag.AddResult, error) {
	if strings.TrimSpace(id) == "" {
		id = a.opts.NewID()
	}
	return a.rag.Add(ctx, id, filename, text)
}

// RAGAddFile extracts text from file bytes and indexes it.
func (a *App) RAGAddFile(ctx context.Context, id, filename string, data []byte) (*rag.AddResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("RAGAddFile: %w", ErrEmptyUpload)
	}
	text, err := a.extractor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("RAGAddFile: %w", err)
	}
	return a.RAGAdd(ctx, id, filename, text)
}

// RAGSearch returns the k most similar chunks.
func (a *App) RAGSearch(ctx context.Context, query string, k int) ([]rag.SearchResult, error) {
	return a.rag.Search(ctx, query, k)
}

// RAGDelete removes a reference document and its chunks.
func (a *App) RAGDelete(ctx context.Context, id string) error {
	return a.rag.Delete(ctx, id)
}

// RAGList lists reference documents.
func (a *App) RAGList(ctx context.Context) ([]*domain.ReferenceDocument, error) {
	return a.rag.List(ctx)
}

// RAGInfo returns one reference document.
func (a *App) RAGInfo(ctx context.Context, id string) (*domain.ReferenceDocument, error) {
	return a.rag.Info(ctx, id)
}

// Retrieval exposes the reference store, for the folder watcher.
func (a *App) Retrieval() *rag.Store { return a.rag }

// Extractor exposes the text extractor, for the folder watcher.
func (a *App) Extractor() pipeline.TextExtractor { return a.extractor }

// LLMInfo reports the active provider and model.
func (a *App) LLMInfo() (provider, model string) {
	p := a.gateway.Load().Provider()
	return p.Name(), p.Model()
}

// UpdateLLMSettings rebuilds the gateway from new settings. Calls already in
// flight finish on the previous gateway.
func (a *App) UpdateLLMSettings(ctx context.Context, settings config.LLM) error {
	if a.opts.NewProvider == nil {
		return fmt.Errorf("UpdateLLMSettings: no provider factory configured")
	}
	p, err := a.opts.NewProvider(ctx, settings)
	if err != nil {
		return fmt.Errorf("UpdateLLMSettings: %w", err)
	}
	a.gateway.Store(llm.NewGateway(p, LLMOptions(settings), a.log))
	a.log.Info().Str("settings", settings.String()).Msg("llm settings updated")
	return nil
}

// Close stops the job workers and releases every backend.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := a.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping job queue: %w", err))
	}
	a.stopWorkers()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

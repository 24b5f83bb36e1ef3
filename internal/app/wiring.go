package app

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-agent/internal/config"
	"github.com/dvloznov/finance-agent/internal/extract"
	"github.com/dvloznov/finance-agent/internal/filestore"
	"github.com/dvloznov/finance-agent/internal/infra/bigquery"
	"github.com/dvloznov/finance-agent/internal/infra/sqlite"
	"github.com/dvloznov/finance-agent/internal/jobs/inmemory"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/llm/anthropic"
	"github.com/dvloznov/finance-agent/internal/llm/gemini"
	"github.com/dvloznov/finance-agent/internal/llm/openai"
	"github.com/dvloznov/finance-agent/internal/pipeline"
	"github.com/dvloznov/finance-agent/internal/profile"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

// Build opens every backend named by cfg and assembles the App.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	st, index, err := openStore(ctx, cfg, &closers)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("Build: %w", err)
	}

	files, err := openFiles(ctx, cfg, &closers)
	if err != nil {
		cleanup()
		_ = st.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}

	extractor, err := newExtractor(ctx, cfg, log, &closers)
	if err != nil {
		cleanup()
		_ = st.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}

	provider, err := NewProvider(ctx, cfg.LLM)
	if err != nil {
		cleanup()
		_ = st.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		cleanup()
		_ = st.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	if embedder == nil {
		log.Warn().Msg("no embedding provider configured, reference retrieval is disabled")
	}

	a, err := New(Deps{
		Store:     st,
		Files:     files,
		Extractor: extractor,
		Provider:  provider,
		Index:     index,
		Embedder:  embedder,
		Closers:   closers,
	}, OptionsFromConfig(cfg), log)
	if err != nil {
		cleanup()
		_ = st.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}

	log.Info().
		Str("store", cfg.Store.Backend).
		Str("files", cfg.Files.Backend).
		Strs("extractors", extractor.Strategies()).
		Str("llm", cfg.LLM.String()).
		Str("embedding", cfg.Embedding.Provider).
		Msg("application ready")
	return a, nil
}

// OptionsFromConfig maps configuration onto component options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LLM: LLMOptions(cfg.LLM),
		Profile: profile.Options{
			RecentLimit:     cfg.Profile.RecentLimit,
			ChatRecentLimit: cfg.Profile.ChatRecentLimit,
			TrailingMonths:  cfg.Profile.TrailingMonths,
		},
		RAG: rag.Options{
			ChunkSize:        cfg.RAG.ChunkSize,
			ChunkOverlap:     cfg.RAG.ChunkOverlap,
			TopK:             cfg.RAG.TopK,
			ContextBudget:    cfg.RAG.ContextBudget,
			EmbedConcurrency: cfg.RAG.EmbedConcurrency,
		},
		Pipeline: pipeline.Options{Concurrency: pipeline.DefaultConcurrency},
		Jobs: inmemory.Options{
			Workers:    cfg.Jobs.Workers,
			MaxRetries: cfg.Jobs.MaxRetries,
		},
		StaleProcessingAfter: cfg.Jobs.StaleAfter,
		NewProvider:          NewProvider,
	}
}

// LLMOptions maps LLM settings onto gateway options.
func LLMOptions(s config.LLM) llm.Options {
	return llm.Options{
		Timeout:             s.Timeout,
		MaxRateLimitRetries: s.MaxRateLimitRetries,
		RateLimitBackoff:    s.RateLimitBaseBackoff,
		RequestsPerSecond:   s.RequestsPerSecond,
		Burst:               s.Burst,
	}
}

// NewProvider builds the provider named in settings.
func NewProvider(ctx context.Context, s config.LLM) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	switch s.Provider {
	case config.ProviderOpenAI:
		var op *openai.Provider
		op, err = openai.New(openai.Config{APIKey: s.APIKey, BaseURL: s.BaseURL, Model: s.Model})
		p = op
	case config.ProviderAnthropic:
		var ap *anthropic.Provider
		ap, err = anthropic.New(anthropic.Config{APIKey: s.APIKey, BaseURL: s.BaseURL, Model: s.Model})
		p = ap
	case config.ProviderGemini:
		var gp *gemini.Provider
		gp, err = gemini.New(ctx, gemini.Config{APIKey: s.APIKey, BaseURL: s.BaseURL, Model: s.Model})
		p = gp
	default:
		return nil, fmt.Errorf("NewProvider: %w: unknown provider %q", config.ErrInvalid, s.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("NewProvider: %w", err)
	}
	return p, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (rag.Embedder, error) {
	e := cfg.Embedding
	switch e.Provider {
	case config.ProviderOpenAI:
		emb, err := openai.NewEmbedder(openai.Config{APIKey: e.APIKey, Model: e.Model})
		if err != nil {
			return nil, err
		}
		return emb, nil
	case config.ProviderGemini:
		emb, err := gemini.NewEmbedder(ctx, gemini.Config{APIKey: e.APIKey, Model: e.Model})
		if err != nil {
			return nil, err
		}
		return emb, nil
	default:
		return nil, nil
	}
}

// openStore returns the ledger store and the reference index. Reference
// chunks always live in SQLite; with the BigQuery backend a separate SQLite
// file holds them.
func openStore(ctx context.Context, cfg *config.Config, closers *[]io.Closer) (store.Store, rag.Index, error) {
	switch cfg.Store.Backend {
	case config.StoreBigQuery:
		repo, err := bigquery.New(ctx, cfg.Store.BigQueryProject, cfg.Store.BigQueryDataset)
		if err != nil {
			return nil, nil, err
		}
		index, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			_ = repo.Close()
			return nil, nil, fmt.Errorf("opening reference index: %w", err)
		}
		*closers = append(*closers, index)
		return repo, index, nil
	default:
		s, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

func openFiles(ctx context.Context, cfg *config.Config, closers *[]io.Closer) (filestore.FileStore, error) {
	switch cfg.Files.Backend {
	case config.FilesGCS:
		g, err := filestore.NewGCS(ctx, cfg.Files.GCSBucket)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, g)
		return g, nil
	default:
		return filestore.NewLocal(cfg.Files.Dir)
	}
}

// newExtractor orders strategies from cheapest to most expensive: plain
// text, the PDF text layer, row layout, then Document AI when configured.
func newExtractor(ctx context.Context, cfg *config.Config, log zerolog.Logger, closers *[]io.Closer) (*extract.Extractor, error) {
	strategies := []extract.Strategy{
		extract.PlainTextStrategy{},
		extract.PDFTextStrategy{},
		extract.PDFRowsStrategy{},
	}
	if cfg.DocumentAIEnabled() {
		docai, err := extract.NewDocumentAIStrategy(ctx, extract.DocumentAIConfig{
			ProjectID:   cfg.Extraction.DocAIProject,
			Location:    cfg.Extraction.DocAILocation,
			ProcessorID: cfg.Extraction.DocAIProcessorID,
		})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, docai)
		strategies = append(strategies, docai)
	}
	return extract.New(log, extract.Options{
		MinTextLength:     cfg.Extraction.MinTextLength,
		MinPrintableRatio: cfg.Extraction.MinPrintableRatio,
	}, strategies...), nil
}

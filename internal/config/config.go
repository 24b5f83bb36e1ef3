package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported providers and backends.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderNone      = "none"

	StoreSQLite   = "sqlite"
	StoreBigQuery = "bigquery"

	FilesLocal = "local"
	FilesGCS   = "gcs"
)

// ErrInvalid is returned by Validate for unusable configurations.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	App struct {
		Port        int      `envconfig:"PORT" default:"8080"`
		DataDir     string   `envconfig:"DATA_DIR" default:"data"`
		LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
		LogFormat   string   `envconfig:"LOG_FORMAT" default:"console"`
		CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	}

	LLM LLM

	Embedding struct {
		Provider string `envconfig:"EMBED_PROVIDER" default:"none"`
		APIKey   string `envconfig:"EMBED_API_KEY"`
		Model    string `envconfig:"EMBED_MODEL"`
	}

	Store struct {
		Backend         string `envconfig:"STORE_BACKEND" default:"sqlite"`
		SQLitePath      string `envconfig:"SQLITE_PATH"`
		BigQueryProject string `envconfig:"BQ_PROJECT"`
		BigQueryDataset string `envconfig:"BQ_DATASET" default:"finance"`
	}

	Files struct {
		Backend   string `envconfig:"FILES_BACKEND" default:"local"`
		Dir       string `envconfig:"FILES_DIR"`
		GCSBucket string `envconfig:"GCS_BUCKET"`
	}

	Extraction struct {
		MinTextLength     int     `envconfig:"EXTRACT_MIN_TEXT_LENGTH" default:"20"`
		MinPrintableRatio float64 `envconfig:"EXTRACT_MIN_PRINTABLE_RATIO" default:"0.85"`
		DocAIProject      string  `envconfig:"DOCAI_PROJECT"`
		DocAILocation     string  `envconfig:"DOCAI_LOCATION" default:"us"`
		DocAIProcessorID  string  `envconfig:"DOCAI_PROCESSOR_ID"`
	}

	RAG struct {
		ChunkSize        int    `envconfig:"RAG_CHUNK_SIZE" default:"1000"`
		ChunkOverlap     int    `envconfig:"RAG_CHUNK_OVERLAP" default:"100"`
		TopK             int    `envconfig:"RAG_TOP_K" default:"5"`
		ContextBudget    int    `envconfig:"RAG_CONTEXT_BUDGET" default:"8000"`
		EmbedConcurrency int    `envconfig:"RAG_EMBED_CONCURRENCY" default:"4"`
		WatchDir         string `envconfig:"RAG_WATCH_DIR"`
	}

	Profile struct {
		RecentLimit     int `envconfig:"PROFILE_RECENT_LIMIT" default:"20"`
		ChatRecentLimit int `envconfig:"PROFILE_CHAT_RECENT_LIMIT" default:"10"`
		TrailingMonths  int `envconfig:"PROFILE_TRAILING_MONTHS" default:"3"`
	}

	Jobs struct {
		Workers    int           `envconfig:"JOB_WORKERS" default:"5"`
		MaxRetries int           `envconfig:"JOB_MAX_RETRIES" default:"3"`
		StaleAfter time.Duration `envconfig:"JOB_STALE_AFTER" default:"30m"`
	}
}

// LLM holds the settings injected into the language model gateway.
type LLM struct {
	Provider             string        `envconfig:"LLM_PROVIDER" default:"openai"`
	APIKey               string        `envconfig:"LLM_API_KEY"`
	Model                string        `envconfig:"LLM_MODEL"`
	BaseURL              string        `envconfig:"LLM_BASE_URL"`
	Timeout              time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	MaxRateLimitRetries  int           `envconfig:"LLM_MAX_RATE_LIMIT_RETRIES" default:"3"`
	RequestsPerSecond    float64       `envconfig:"LLM_REQUESTS_PER_SECOND" default:"2"`
	Burst                int           `envconfig:"LLM_BURST" default:"4"`
	RateLimitBaseBackoff time.Duration `envconfig:"LLM_RATE_LIMIT_BACKOFF" default:"1s"`
}

// String hides the credential so settings can be logged safely.
func (l LLM) String() string {
	key := "unset"
	if l.APIKey != "" {
		key = "set"
	}
	return fmt.Sprintf("provider=%s model=%s api_key=%s timeout=%s", l.Provider, l.Model, key, l.Timeout)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerivedDefaults() {
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.App.DataDir, "finance.db")
	}
	if c.Files.Dir == "" {
		c.Files.Dir = filepath.Join(c.App.DataDir, "uploads")
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	if c.Embedding.APIKey == "" && c.Embedding.Provider == c.LLM.Provider {
		c.Embedding.APIKey = c.LLM.APIKey
	}
}

// Validate rejects unknown providers or backends and missing credentials.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("%w: unknown LLM_PROVIDER %q", ErrInvalid, c.LLM.Provider)
	}
	if c.LLM.APIKey == "" && os.Getenv("GOOGLE_GENAI_USE_VERTEXAI") == "" {
		return fmt.Errorf("%w: LLM_API_KEY is required for provider %s", ErrInvalid, c.LLM.Provider)
	}

	switch c.Embedding.Provider {
	case ProviderNone, "":
	case ProviderOpenAI, ProviderGemini:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%w: EMBED_API_KEY is required for provider %s", ErrInvalid, c.Embedding.Provider)
		}
	default:
		return fmt.Errorf("%w: unknown EMBED_PROVIDER %q", ErrInvalid, c.Embedding.Provider)
	}

	switch c.Store.Backend {
	case StoreSQLite:
	case StoreBigQuery:
		if c.Store.BigQueryProject == "" {
			return fmt.Errorf("%w: BQ_PROJECT is required for the bigquery backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalid, c.Store.Backend)
	}

	switch c.Files.Backend {
	case FilesLocal:
	case FilesGCS:
		if c.Files.GCSBucket == "" {
			return fmt.Errorf("%w: GCS_BUCKET is required for the gcs files backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown FILES_BACKEND %q", ErrInvalid, c.Files.Backend)
	}

	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: RAG_CHUNK_OVERLAP must be smaller than RAG_CHUNK_SIZE", ErrInvalid)
	}
	return nil
}

// DocumentAIEnabled reports whether the Document AI strategy can be built.
func (c *Config) DocumentAIEnabled() bool {
	return c.Extraction.DocAIProject != "" && c.Extraction.DocAIProcessorID != ""
}

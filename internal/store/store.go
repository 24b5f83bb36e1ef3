// Package store declares the persistence contracts shared by the SQLite and
// BigQuery backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dvloznov/finance-agent/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessing is returned when a processing claim is taken on a
	// document that is already being processed.
	ErrAlreadyProcessing = errors.New("document is already processing")
)

// DocumentRepository provides document lifecycle operations.
type DocumentRepository interface {
	// CreateDocument inserts a new document row.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by id, including its extracted text.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments retrieves all documents, newest first.
	ListDocuments(ctx context.Context) ([]*domain.Document, error)

	// ClaimProcessing moves a document into processing unless it is already
	// there, in which case ErrAlreadyProcessing is returned. The claimed
	// document is returned as stored after the transition.
	ClaimProcessing(ctx context.Context, id string) (*domain.Document, error)

	// SaveExtractedText preserves extracted text and the detected type so a
	// retry can skip extraction.
	SaveExtractedText(ctx context.Context, id, text string, docType domain.DocumentType) error

	// CommitProcessing atomically replaces the document's ledger entries and
	// marks it processed with the analysis payload.
	CommitProcessing(ctx context.Context, id string, analysis json.RawMessage, entries []*domain.LedgerEntry) error

	// FailProcessing marks the document failed with a reason.
	FailProcessing(ctx context.Context, id, reason string) error

	// RecoverStaleProcessing fails every document that has been processing
	// since before cutoff, left behind by a process that died mid-pipeline.
	// It returns how many documents it changed.
	RecoverStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int, error)

	// DeleteDocument removes a document and every ledger entry it sourced.
	DeleteDocument(ctx context.Context, id string) error
}

// LedgerFilter narrows ListEntries. Zero values match everything.
type LedgerFilter struct {
	Since            time.Time
	SourceDocumentID string
}

// LedgerRepository provides ledger entry operations.
type LedgerRepository interface {
	// ListEntries returns entries ordered by date descending.
	ListEntries(ctx context.Context, f LedgerFilter) ([]*domain.LedgerEntry, error)

	// AddEntry inserts a single entry, typically a manual one.
	AddEntry(ctx context.Context, e *domain.LedgerEntry) error
}

// ChatRepository provides the append-only chat log.
type ChatRepository interface {
	// AppendExchange stores one exchange.
	AppendExchange(ctx context.Context, ex *domain.ChatExchange) error

	// ListExchanges returns the most recent limit exchanges, oldest first.
	ListExchanges(ctx context.Context, limit int) ([]*domain.ChatExchange, error)
}

// Store is a complete persistence backend.
type Store interface {
	DocumentRepository
	LedgerRepository
	ChatRepository
	Close() error
}

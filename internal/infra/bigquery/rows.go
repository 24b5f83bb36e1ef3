package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// numericScale is the fractional precision of the NUMERIC type.
const numericScale = 9

// DocumentRow represents a document record in BigQuery.
type DocumentRow struct {
	ID            string              `bigquery:"id"`
	Filename      string              `bigquery:"filename"`
	StoragePath   string              `bigquery:"storage_path"`
	MIMEType      bigquery.NullString `bigquery:"mime_type"`
	DocumentType  bigquery.NullString `bigquery:"document_type"`
	SizeBytes     bigquery.NullInt64  `bigquery:"size_bytes"`
	Status        string              `bigquery:"status"`
	FailureReason bigquery.NullString `bigquery:"failure_reason"`
	ExtractedText bigquery.NullString `bigquery:"extracted_text"`
	Analysis      bigquery.NullString `bigquery:"analysis"`
	CreatedAt     time.Time           `bigquery:"created_at"`
	UpdatedAt     time.Time           `bigquery:"updated_at"`
}

func (r *DocumentRow) toDomain() *domain.Document {
	doc := &domain.Document{
		ID:            r.ID,
		Filename:      r.Filename,
		StoragePath:   r.StoragePath,
		MIMEType:      r.MIMEType.StringVal,
		DocumentType:  domain.DocumentType(r.DocumentType.StringVal),
		SizeBytes:     r.SizeBytes.Int64,
		Status:        domain.DocumentStatus(r.Status),
		FailureReason: r.FailureReason.StringVal,
		ExtractedText: r.ExtractedText.StringVal,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Analysis.Valid && r.Analysis.StringVal != "" {
		doc.Analysis = json.RawMessage(r.Analysis.StringVal)
	}
	return doc
}

// LedgerEntryRow represents a ledger entry in BigQuery. It doubles as the
// element type of the STRUCT array parameter used by the commit script.
type LedgerEntryRow struct {
	ID               string     `bigquery:"id"`
	Category         string     `bigquery:"category"`
	Subcategory      string     `bigquery:"subcategory"`
	Amount           *big.Rat   `bigquery:"amount"`
	EntryDate        civil.Date `bigquery:"entry_date"`
	Description      string     `bigquery:"description"`
	SourceDocumentID string     `bigquery:"source_document_id"`
	Metadata         string     `bigquery:"metadata"`
	CreatedAt        time.Time  `bigquery:"created_at"`
}

// ledgerEntryReadRow is the nullable read shape of ledger_entries.
type ledgerEntryReadRow struct {
	ID               string              `bigquery:"id"`
	Category         string              `bigquery:"category"`
	Subcategory      bigquery.NullString `bigquery:"subcategory"`
	Amount           *big.Rat            `bigquery:"amount"`
	EntryDate        civil.Date          `bigquery:"entry_date"`
	Description      bigquery.NullString `bigquery:"description"`
	SourceDocumentID bigquery.NullString `bigquery:"source_document_id"`
	Metadata         bigquery.NullString `bigquery:"metadata"`
	CreatedAt        time.Time           `bigquery:"created_at"`
}

func newLedgerEntryRow(e *domain.LedgerEntry, now time.Time) (*LedgerEntryRow, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	row := &LedgerEntryRow{
		ID:          e.ID,
		Category:    string(e.Category),
		Subcategory: e.Subcategory,
		Amount:      e.Amount.Rat(),
		EntryDate:   civil.DateOf(e.Date),
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
	if e.SourceDocumentID != nil {
		row.SourceDocumentID = *e.SourceDocumentID
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata for entry %s: %w", e.ID, err)
		}
		row.Metadata = string(raw)
	}
	return row, nil
}

func (r *ledgerEntryReadRow) toDomain() (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{
		ID:          r.ID,
		Category:    domain.Category(r.Category),
		Subcategory: r.Subcategory.StringVal,
		Date:        r.EntryDate.In(time.UTC),
		Description: r.Description.StringVal,
		CreatedAt:   r.CreatedAt,
	}
	if r.Amount != nil {
		e.Amount = decimal.NewFromBigRat(r.Amount, numericScale)
	}
	if r.SourceDocumentID.Valid && r.SourceDocumentID.StringVal != "" {
		id := r.SourceDocumentID.StringVal
		e.SourceDocumentID = &id
	}
	if r.Metadata.Valid && r.Metadata.StringVal != "" {
		if err := json.Unmarshal([]byte(r.Metadata.StringVal), &e.Metadata); err != nil {
			return nil, fmt.Errorf("entry %s metadata: %w", r.ID, err)
		}
	}
	return e, nil
}

// ChatExchangeRow represents a chat exchange in BigQuery.
type ChatExchangeRow struct {
	ID          string              `bigquery:"id"`
	Message     string              `bigquery:"message"`
	Response    string              `bigquery:"response"`
	ContextUsed bigquery.NullString `bigquery:"context_used"`
	CreatedAt   time.Time           `bigquery:"created_at"`
}

func newChatExchangeRow(ex *domain.ChatExchange) *ChatExchangeRow {
	return &ChatExchangeRow{
		ID:          ex.ID,
		Message:     ex.Message,
		Response:    ex.Response,
		ContextUsed: bigquery.NullString{StringVal: string(ex.ContextUsed), Valid: len(ex.ContextUsed) > 0},
		CreatedAt:   ex.Timestamp,
	}
}

func (r *ChatExchangeRow) toDomain() *domain.ChatExchange {
	ex := &domain.ChatExchange{
		ID:        r.ID,
		Message:   r.Message,
		Response:  r.Response,
		Timestamp: r.CreatedAt,
	}
	if r.ContextUsed.Valid {
		ex.ContextUsed = json.RawMessage(r.ContextUsed.StringVal)
	}
	return ex
}

package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// MaxFailureReason bounds a stored failure reason, in bytes.
const MaxFailureReason = 2000

// ClampFailureReason cuts reason to at most MaxFailureReason bytes without
// splitting a UTF-8 sequence.
func ClampFailureReason(reason string) string {
	if len(reason) <= MaxFailureReason {
		return reason
	}
	end := MaxFailureReason
	for end > 0 && !utf8.RuneStart(reason[end]) {
		end--
	}
	return reason[:end]
}

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// DocumentType is the classifier label for a document.
type DocumentType string

const (
	TypeCreditCard    DocumentType = "credit_card"
	TypeBankStatement DocumentType = "bank_statement"
	TypeInvestment    DocumentType = "investment"
	TypeTaxDocument   DocumentType = "tax_document"
	TypeInsurance     DocumentType = "insurance"
	TypeLoan          DocumentType = "loan"
	TypeOther         DocumentType = "other"
)

// Document is one uploaded source file and its processing state.
type Document struct {
	ID            string          `json:"id"`
	Filename      string          `json:"filename"`
	StoragePath   string          `json:"storage_path"`
	MIMEType      string          `json:"mime_type,omitempty"`
	DocumentType  DocumentType    `json:"document_type,omitempty"`
	SizeBytes     int64           `json:"size_bytes"`
	Status        DocumentStatus  `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ExtractedText string          `json:"-"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CanStartProcessing reports whether a processing claim may be taken from
// the current state. Only an in-flight document is rejected.
func (d *Document) CanStartProcessing() bool {
	return d.Status != StatusProcessing
}

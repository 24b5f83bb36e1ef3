package pipeline

import (
	"context"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// FileSource provides access to stored document bytes.
type FileSource interface {
	Get(ctx context.Context, storagePath string) ([]byte, error)
}

// TextExtractor turns raw document bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Classifier labels extracted text with a document type.
type Classifier interface {
	Classify(text string) (domain.DocumentType, error)
}

// Analyzer provides AI-powered structured extraction.
// This interface enables mocking the model in tests.
type Analyzer interface {
	// ExtractStructured returns a schema-validated analysis of the document text.
	ExtractStructured(ctx context.Context, text string, docType domain.DocumentType) (*domain.StructuredAnalysis, error)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

const documentColumns = `id, filename, storage_path, mime_type, document_type, size_bytes,
	status, failure_reason, extracted_text, analysis, created_at, updated_at`

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.Status == "" {
		doc.Status = domain.StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Filename, doc.StoragePath, doc.MIMEType, string(doc.DocumentType), doc.SizeBytes,
		string(doc.Status), doc.FailureReason, doc.ExtractedText, nullString(string(doc.Analysis)),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("CreateDocument: inserting row: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("GetDocument: %w", err)
	}
	return doc, nil
}

// ListDocuments retrieves all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListDocuments: querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDocuments: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListDocuments: iterating rows: %w", err)
	}
	return docs, nil
}

// ClaimProcessing moves a document into processing with a conditional update.
func (s *Store) ClaimProcessing(ctx context.Context, id string) (*domain.Document, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, failure_reason = '', updated_at = ?
		WHERE id = ? AND status != ?
	`, string(domain.StatusProcessing), formatTime(s.now()), id, string(domain.StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("ClaimProcessing: updating status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ClaimProcessing: rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetDocument(ctx, id); err != nil {
			return nil, fmt.Errorf("ClaimProcessing: %w", err)
		}
		return nil, fmt.Errorf("ClaimProcessing: %s: %w", id, store.ErrAlreadyProcessing)
	}

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ClaimProcessing: %w", err)
	}
	return doc, nil
}

// SaveExtractedText preserves extracted text for retries.
func (s *Store) SaveExtractedText(ctx context.Context, id, text string, docType domain.DocumentType) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET extracted_text = ?, document_type = ?, updated_at = ? WHERE id = ?
	`, text, string(docType), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("SaveExtractedText: updating document: %w", err)
	}
	return requireAffected(res, "SaveExtractedText", id)
}

// CommitProcessing replaces the document's entries and marks it processed in
// a single transaction.
func (s *Store) CommitProcessing(ctx context.Context, id string, analysis json.RawMessage, entries []*domain.LedgerEntry) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE source_document_id = ?`, id); err != nil {
			return fmt.Errorf("deleting prior entries: %w", err)
		}

		for _, e := range entries {
			if err := insertEntry(ctx, tx, e, s.now()); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET status = ?, failure_reason = '', analysis = ?, updated_at = ?
			WHERE id = ?
		`, string(domain.StatusProcessed), nullString(string(analysis)), formatTime(s.now()), id)
		if err != nil {
			return fmt.Errorf("marking processed: %w", err)
		}
		return requireAffected(res, "mark processed", id)
	})
	if err != nil {
		return fmt.Errorf("CommitProcessing: %w", err)
	}
	return nil
}

// FailProcessing marks the document failed.
func (s *Store) FailProcessing(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?
	`, string(domain.StatusFailed), reason, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("FailProcessing: updating document: %w", err)
	}
	return requireAffected(res, "FailProcessing", id)
}

// RecoverStaleProcessing fails processing rows last touched before cutoff.
// timeLayout is fixed width UTC, so the string comparison orders by time.
func (s *Store) RecoverStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failure_reason = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`, string(domain.StatusFailed), domain.ClampFailureReason(reason), formatTime(s.now()),
		string(domain.StatusProcessing), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("RecoverStaleProcessing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RecoverStaleProcessing: rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteDocument removes a document. Its ledger entries go with it through
// the foreign key cascade; the explicit delete covers databases created
// without foreign key enforcement.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE source_document_id = ?`, id); err != nil {
			return fmt.Errorf("deleting entries: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		return requireAffected(res, "delete", id)
	})
	if err != nil {
		return fmt.Errorf("DeleteDocument: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc                  domain.Document
		docType, status      string
		analysis             sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.StoragePath, &doc.MIMEType, &docType, &doc.SizeBytes,
		&status, &doc.FailureReason, &doc.ExtractedText, &analysis, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.DocumentType = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	if analysis.Valid && analysis.String != "" {
		doc.Analysis = json.RawMessage(analysis.String)
	}
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: document %s: %w", op, id, store.ErrNotFound)
	}
	return nil
}

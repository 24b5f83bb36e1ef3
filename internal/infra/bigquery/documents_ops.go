package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

const documentColumns = `id, filename, storage_path, mime_type, document_type, size_bytes,
	status, failure_reason, extracted_text, analysis, created_at, updated_at`

// CreateDocument inserts a document with a DML insert so later status
// updates do not hit the streaming buffer.
func (r *Repository) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.Status == "" {
		doc.Status = domain.StatusPending
	}

	q := r.client.Query(fmt.Sprintf(`
		INSERT %s (`+documentColumns+`)
		VALUES (@id, @filename, @storage_path, @mime_type, @document_type, @size_bytes,
		        @status, @failure_reason, @extracted_text, @analysis, @created_at, @updated_at)
	`, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: doc.ID},
		{Name: "filename", Value: doc.Filename},
		{Name: "storage_path", Value: doc.StoragePath},
		{Name: "mime_type", Value: doc.MIMEType},
		{Name: "document_type", Value: string(doc.DocumentType)},
		{Name: "size_bytes", Value: doc.SizeBytes},
		{Name: "status", Value: string(doc.Status)},
		{Name: "failure_reason", Value: doc.FailureReason},
		{Name: "extracted_text", Value: doc.ExtractedText},
		{Name: "analysis", Value: bigquery.NullString{StringVal: string(doc.Analysis), Valid: len(doc.Analysis) > 0}},
		{Name: "created_at", Value: doc.CreatedAt},
		{Name: "updated_at", Value: doc.UpdatedAt},
	}

	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("CreateDocument: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by id.
func (r *Repository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	q := r.client.Query(fmt.Sprintf(`SELECT %s FROM %s WHERE id = @id LIMIT 1`, documentColumns, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}

	docs, err := r.readDocuments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetDocument: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("GetDocument: %s: %w", id, store.ErrNotFound)
	}
	return docs[0], nil
}

// ListDocuments retrieves all documents, newest first.
func (r *Repository) ListDocuments(ctx context.Context) ([]*domain.Document, error) {
	q := r.client.Query(fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC`, documentColumns, r.table(documentsTable)))
	docs, err := r.readDocuments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListDocuments: %w", err)
	}
	return docs, nil
}

func (r *Repository) readDocuments(ctx context.Context, q *bigquery.Query) ([]*domain.Document, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var docs []*domain.Document
	for {
		var row DocumentRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		docs = append(docs, row.toDomain())
	}
	return docs, nil
}

// ClaimProcessing is a conditional UPDATE; zero affected rows means the
// document is missing or already processing.
func (r *Repository) ClaimProcessing(ctx context.Context, id string) (*domain.Document, error) {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @processing, failure_reason = "", updated_at = @now
		WHERE id = @id AND status != @processing
	`, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "processing", Value: string(domain.StatusProcessing)},
		{Name: "now", Value: r.now()},
		{Name: "id", Value: id},
	}

	n, err := runDML(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ClaimProcessing: %w", err)
	}

	doc, err := r.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ClaimProcessing: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("ClaimProcessing: %s: %w", id, store.ErrAlreadyProcessing)
	}
	return doc, nil
}

// SaveExtractedText preserves extracted text for retries.
func (r *Repository) SaveExtractedText(ctx context.Context, id, text string, docType domain.DocumentType) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s SET extracted_text = @text, document_type = @document_type, updated_at = @now
		WHERE id = @id
	`, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "text", Value: text},
		{Name: "document_type", Value: string(docType)},
		{Name: "now", Value: r.now()},
		{Name: "id", Value: id},
	}
	return r.updateOne(ctx, q, "SaveExtractedText", id)
}

// CommitProcessing runs delete, insert and status update as one
// multi-statement transaction.
func (r *Repository) CommitProcessing(ctx context.Context, id string, analysis json.RawMessage, entries []*domain.LedgerEntry) error {
	rows := make([]*LedgerEntryRow, 0, len(entries))
	for _, e := range entries {
		row, err := newLedgerEntryRow(e, r.now())
		if err != nil {
			return fmt.Errorf("CommitProcessing: %w", err)
		}
		rows = append(rows, row)
	}

	q := r.client.Query(commitScript(r.table(ledgerEntriesTable), r.table(documentsTable), len(rows) > 0))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: id},
		{Name: "processed", Value: string(domain.StatusProcessed)},
		{Name: "analysis", Value: bigquery.NullString{StringVal: string(analysis), Valid: len(analysis) > 0}},
		{Name: "now", Value: r.now()},
	}
	if len(rows) > 0 {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: "entries", Value: rows})
	}

	if err := runQuery(ctx, q); err != nil {
		if strings.Contains(err.Error(), "document not found") {
			return fmt.Errorf("CommitProcessing: document %s: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("CommitProcessing: %w", err)
	}
	return nil
}

// commitScript builds the transaction body. The document row is checked
// first so a missing document aborts before anything changes.
func commitScript(entriesTable, documentsTable string, withInsert bool) string {
	script := `
		BEGIN TRANSACTION;
		IF NOT EXISTS (SELECT 1 FROM ` + documentsTable + ` WHERE id = @id) THEN
			RAISE USING MESSAGE = 'document not found';
		END IF;
		DELETE FROM ` + entriesTable + ` WHERE source_document_id = @id;
`
	if withInsert {
		script += `		INSERT INTO ` + entriesTable + ` (id, category, subcategory, amount, entry_date, description, source_document_id, metadata, created_at)
		SELECT e.id, e.category, e.subcategory, e.amount, e.entry_date, e.description, e.source_document_id, NULLIF(e.metadata, ''), e.created_at
		FROM UNNEST(@entries) AS e;
`
	}
	script += `		UPDATE ` + documentsTable + `
		SET status = @processed, failure_reason = "", analysis = @analysis, updated_at = @now
		WHERE id = @id;
		COMMIT TRANSACTION;
`
	return script
}

// FailProcessing marks the document failed.
func (r *Repository) FailProcessing(ctx context.Context, id, reason string) error {
	reason = domain.ClampFailureReason(reason)
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s SET status = @failed, failure_reason = @reason, updated_at = @now WHERE id = @id
	`, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "failed", Value: string(domain.StatusFailed)},
		{Name: "reason", Value: reason},
		{Name: "now", Value: r.now()},
		{Name: "id", Value: id},
	}
	return r.updateOne(ctx, q, "FailProcessing", id)
}

// RecoverStaleProcessing fails processing rows last touched before cutoff.
func (r *Repository) RecoverStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s SET status = @failed, failure_reason = @reason, updated_at = @now
		WHERE status = @processing AND updated_at < @cutoff
	`, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "failed", Value: string(domain.StatusFailed)},
		{Name: "reason", Value: domain.ClampFailureReason(reason)},
		{Name: "now", Value: r.now()},
		{Name: "processing", Value: string(domain.StatusProcessing)},
		{Name: "cutoff", Value: cutoff.UTC()},
	}
	n, err := runDML(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("RecoverStaleProcessing: %w", err)
	}
	return int(n), nil
}

// DeleteDocument deletes a document and its ledger entries in one
// transaction.
func (r *Repository) DeleteDocument(ctx context.Context, id string) error {
	if _, err := r.GetDocument(ctx, id); err != nil {
		return fmt.Errorf("DeleteDocument: %w", err)
	}

	q := r.client.Query(`
		BEGIN TRANSACTION;
		DELETE FROM ` + r.table(ledgerEntriesTable) + ` WHERE source_document_id = @id;
		DELETE FROM ` + r.table(documentsTable) + ` WHERE id = @id;
		COMMIT TRANSACTION;
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}

	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("DeleteDocument: %w", err)
	}
	return nil
}

func (r *Repository) updateOne(ctx context.Context, q *bigquery.Query, op, id string) error {
	n, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: document %s: %w", op, id, store.ErrNotFound)
	}
	return nil
}

package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

// ListEntries returns entries ordered by date descending.
func (r *Repository) ListEntries(ctx context.Context, f store.LedgerFilter) ([]*domain.LedgerEntry, error) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if !f.Since.IsZero() {
		where = append(where, "entry_date >= @since")
		params = append(params, bigquery.QueryParameter{Name: "since", Value: civil.DateOf(f.Since)})
	}
	if f.SourceDocumentID != "" {
		where = append(where, "source_document_id = @source_document_id")
		params = append(params, bigquery.QueryParameter{Name: "source_document_id", Value: f.SourceDocumentID})
	}

	sql := `SELECT id, category, subcategory, amount, entry_date, description, source_document_id, metadata, created_at
		FROM ` + r.table(ledgerEntriesTable)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY entry_date DESC, created_at ASC, id ASC"

	q := r.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListEntries: query read: %w", err)
	}

	var entries []*domain.LedgerEntry
	for {
		var row ledgerEntryReadRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListEntries: iter next: %w", err)
		}
		e, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListEntries: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AddEntry inserts a single entry with DML.
func (r *Repository) AddEntry(ctx context.Context, e *domain.LedgerEntry) error {
	row, err := newLedgerEntryRow(e, r.now())
	if err != nil {
		return fmt.Errorf("AddEntry: %w", err)
	}

	q := r.client.Query(`
		INSERT ` + r.table(ledgerEntriesTable) + ` (id, category, subcategory, amount, entry_date, description, source_document_id, metadata, created_at)
		VALUES (@id, @category, @subcategory, @amount, @entry_date, @description, NULLIF(@source_document_id, ''), NULLIF(@metadata, ''), @created_at)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "category", Value: row.Category},
		{Name: "subcategory", Value: row.Subcategory},
		{Name: "amount", Value: row.Amount},
		{Name: "entry_date", Value: row.EntryDate},
		{Name: "description", Value: row.Description},
		{Name: "source_document_id", Value: row.SourceDocumentID},
		{Name: "metadata", Value: row.Metadata},
		{Name: "created_at", Value: row.CreatedAt},
	}

	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("AddEntry: %w", err)
	}
	return nil
}

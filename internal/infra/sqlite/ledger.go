package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ListEntries returns entries ordered by date descending.
func (s *Store) ListEntries(ctx context.Context, f store.LedgerFilter) ([]*domain.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "entry_date >= ?")
		args = append(args, f.Since.Format(domain.DateLayout))
	}
	if f.SourceDocumentID != "" {
		where = append(where, "source_document_id = ?")
		args = append(args, f.SourceDocumentID)
	}

	query := `SELECT id, category, subcategory, amount, entry_date, description, source_document_id, metadata, created_at
		FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY entry_date DESC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListEntries: querying entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var (
			e                   domain.LedgerEntry
			category, amount    string
			date, createdAt     string
			source, metadataRaw sql.NullString
		)
		if err := rows.Scan(&e.ID, &category, &e.Subcategory, &amount, &date, &e.Description,
			&source, &metadataRaw, &createdAt); err != nil {
			return nil, fmt.Errorf("ListEntries: scanning entry: %w", err)
		}

		e.Category = domain.Category(category)
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("ListEntries: entry %s amount %q: %w", e.ID, amount, err)
		}
		e.Date, err = time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("ListEntries: entry %s date %q: %w", e.ID, date, err)
		}
		if source.Valid {
			id := source.String
			e.SourceDocumentID = &id
		}
		if metadataRaw.Valid && metadataRaw.String != "" {
			if err := json.Unmarshal([]byte(metadataRaw.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("ListEntries: entry %s metadata: %w", e.ID, err)
			}
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEntries: iterating rows: %w", err)
	}
	return entries, nil
}

// AddEntry inserts a single entry.
func (s *Store) AddEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if err := insertEntry(ctx, s.db, e, s.now()); err != nil {
		return fmt.Errorf("AddEntry: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, db execer, e *domain.LedgerEntry, now time.Time) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	var metadata any
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for entry %s: %w", e.ID, err)
		}
		metadata = string(raw)
	}

	var source any
	if e.SourceDocumentID != nil {
		source = *e.SourceDocumentID
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, category, subcategory, amount, entry_date, description, source_document_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Category), e.Subcategory, e.Amount.String(), e.Date.Format(domain.DateLayout),
		e.Description, source, metadata, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

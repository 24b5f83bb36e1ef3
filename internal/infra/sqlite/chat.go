package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// AppendExchange stores one chat exchange.
func (s *Store) AppendExchange(ctx context.Context, ex *domain.ChatExchange) error {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_exchanges (id, message, response, context_used, created_at) VALUES (?, ?, ?, ?, ?)
	`, ex.ID, ex.Message, ex.Response, nullString(string(ex.ContextUsed)), formatTime(ex.Timestamp))
	if err != nil {
		return fmt.Errorf("AppendExchange: inserting row: %w", err)
	}
	return nil
}

// ListExchanges returns the most recent limit exchanges, oldest first.
func (s *Store) ListExchanges(ctx context.Context, limit int) ([]*domain.ChatExchange, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message, response, context_used, created_at FROM (
			SELECT rowid AS seq, id, message, response, context_used, created_at
			FROM chat_exchanges
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListExchanges: querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []*domain.ChatExchange
	for rows.Next() {
		var (
			ex        domain.ChatExchange
			contextJS sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ex.ID, &ex.Message, &ex.Response, &contextJS, &createdAt); err != nil {
			return nil, fmt.Errorf("ListExchanges: scanning exchange: %w", err)
		}
		if contextJS.Valid {
			ex.ContextUsed = json.RawMessage(contextJS.String)
		}
		ex.Timestamp = parseTime(createdAt)
		out = append(out, &ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListExchanges: iterating rows: %w", err)
	}
	return out, nil
}

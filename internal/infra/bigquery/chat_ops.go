package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// AppendExchange streams one exchange into chat_exchanges. The log is
// append-only so the streaming buffer never blocks a later DML statement.
func (r *Repository) AppendExchange(ctx context.Context, ex *domain.ChatExchange) error {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = r.now()
	}
	inserter := r.client.DatasetInProject(r.projectID, r.datasetID).Table(chatExchangesTable).Inserter()
	if err := inserter.Put(ctx, newChatExchangeRow(ex)); err != nil {
		return fmt.Errorf("AppendExchange: inserting row: %w", err)
	}
	return nil
}

// ListExchanges returns the most recent limit exchanges, oldest first.
func (r *Repository) ListExchanges(ctx context.Context, limit int) ([]*domain.ChatExchange, error) {
	sql := `SELECT id, message, response, context_used, created_at FROM ` + r.table(chatExchangesTable) +
		` ORDER BY created_at DESC`
	var params []bigquery.QueryParameter
	if limit > 0 {
		sql += " LIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	q := r.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExchanges: query read: %w", err)
	}

	var out []*domain.ChatExchange
	for {
		var row ChatExchangeRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExchanges: iter next: %w", err)
		}
		out = append(out, row.toDomain())
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

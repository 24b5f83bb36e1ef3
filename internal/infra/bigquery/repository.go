// Package bigquery is the warehouse persistence backend. It keeps documents,
// ledger entries and chat exchanges in one BigQuery dataset and uses DML
// for every write that may later be updated or deleted.
package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-agent/internal/store"
)

const (
	documentsTable     = "documents"
	ledgerEntriesTable = "ledger_entries"
	chatExchangesTable = "chat_exchanges"
)

var _ store.Store = (*Repository)(nil)

// Repository implements store.Store. It holds a shared BigQuery client.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// New creates a repository with its own client.
func New(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w", err)
	}
	return NewWithClient(client, projectID, datasetID), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Client exposes the underlying client, e.g. for migrations.
func (r *Repository) Client() *bigquery.Client {
	return r.client
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) table(name string) string {
	return qualifiedTable(r.projectID, r.datasetID, name)
}

func qualifiedTable(projectID, datasetID, name string) string {
	return "`" + projectID + "." + datasetID + "." + name + "`"
}

// runQuery runs a statement and waits for it to finish.
func runQuery(ctx context.Context, q *bigquery.Query) error {
	_, err := runDML(ctx, q)
	return err
}

// runDML runs a statement and returns the number of rows it modified.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}
	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

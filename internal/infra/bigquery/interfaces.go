package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// DefaultDatasetID is used when no dataset is configured.
const DefaultDatasetID = "qif"

// RunRepository records conversion runs and their exported transactions.
type RunRepository interface {
	// RecordRun inserts the run row and, for successful runs, its transactions.
	RecordRun(ctx context.Context, run *ConversionRunRow, txs []*TransactionRow) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*ConversionRunRow, error)
}

// BigQueryRunRepository is the concrete implementation of RunRepository
// that interacts with BigQuery. It holds a shared BigQuery client to avoid
// creating a new connection for each operation.
type BigQueryRunRepository struct {
	client    *bigquery.Client
	datasetID string
}

// NewBigQueryRunRepository creates a new instance of BigQueryRunRepository
// with a shared BigQuery client.
func NewBigQueryRunRepository(ctx context.Context, projectID, datasetID string) (*BigQueryRunRepository, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewBigQueryRunRepository: project ID is required")
	}
	if datasetID == "" {
		datasetID = DefaultDatasetID
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRunRepository: creating client: %w", err)
	}
	return &BigQueryRunRepository{
		client:    client,
		datasetID: datasetID,
	}, nil
}

// Close closes the BigQuery client connection. This should be called when
// the repository is no longer needed to release resources.
func (r *BigQueryRunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTables delegates to EnsureTablesWithClient with the shared client.
func (r *BigQueryRunRepository) EnsureTables(ctx context.Context) error {
	return EnsureTablesWithClient(ctx, r.client, r.datasetID)
}

// InsertRun delegates to InsertRunWithClient with the shared client.
func (r *BigQueryRunRepository) InsertRun(ctx context.Context, row *ConversionRunRow) error {
	return InsertRunWithClient(ctx, r.client, r.datasetID, row)
}

// InsertTransactions delegates to InsertTransactionsWithClient with the shared client.
func (r *BigQueryRunRepository) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	return InsertTransactionsWithClient(ctx, r.client, r.datasetID, rows)
}

// ListRuns delegates to ListRunsWithClient with the shared client.
func (r *BigQueryRunRepository) ListRuns(ctx context.Context, limit int) ([]*ConversionRunRow, error) {
	return ListRunsWithClient(ctx, r.client, r.datasetID, limit)
}

// RecordRun writes transactions before the run row, so a SUCCESS row is only
// visible once its transactions were accepted.
func (r *BigQueryRunRepository) RecordRun(ctx context.Context, run *ConversionRunRow, txs []*TransactionRow) error {
	if run.Status == RunStatusSuccess {
		if err := r.InsertTransactions(ctx, txs); err != nil {
			return fmt.Errorf("RecordRun: %w", err)
		}
	}
	if err := r.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("RecordRun: %w", err)
	}
	return nil
}

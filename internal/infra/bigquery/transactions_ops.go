package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	transactionsTable = "transactions"

	// insertBatchSize keeps each streaming request well under the API limits.
	insertBatchSize = 500
)

// InsertTransactionsWithClient streams rows into <dataset>.transactions
// using the provided BigQuery client.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, datasetID string, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := client.Dataset(datasetID).Table(transactionsTable).Inserter()
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		if err := inserter.Put(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("InsertTransactions: inserting rows %d-%d: %w", start, end-1, err)
		}
	}

	return nil
}

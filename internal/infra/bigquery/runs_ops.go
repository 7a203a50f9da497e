package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const (
	conversionRunsTable = "conversion_runs"

	// DefaultListLimit caps ListRuns when the caller passes a non-positive limit.
	DefaultListLimit = 50
)

// InsertRunWithClient streams a single ConversionRunRow into
// <dataset>.conversion_runs using the provided BigQuery client.
func InsertRunWithClient(ctx context.Context, client *bigquery.Client, datasetID string, row *ConversionRunRow) error {
	if row == nil {
		return fmt.Errorf("InsertRun: nil row")
	}

	inserter := client.Dataset(datasetID).Table(conversionRunsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertRun: inserting row %s: %w", row.RunID, err)
	}

	return nil
}

// ListRunsWithClient returns the most recent conversion runs, newest first.
func ListRunsWithClient(ctx context.Context, client *bigquery.Client, datasetID string, limit int) ([]*ConversionRunRow, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			run_id,
			input_uri,
			output_uri,
			input_checksum,
			charset,
			include_memo,
			transaction_count,
			memo_suppressed,
			status,
			error_message,
			started_ts,
			finished_ts
		FROM %s.%s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, datasetID, conversionRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query read: %w", err)
	}

	var rows []*ConversionRunRow
	for {
		var r ConversionRunRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

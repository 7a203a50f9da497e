package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// tableSpec pairs a ledger table with the row struct its schema is inferred from.
type tableSpec struct {
	name        string
	row         any
	description string
}

var ledgerTables = []tableSpec{
	{name: conversionRunsTable, row: ConversionRunRow{}, description: "One row per OFX to QIF conversion"},
	{name: transactionsTable, row: TransactionRow{}, description: "Records emitted by successful conversions"},
}

// EnsureTablesWithClient creates the dataset and the ledger tables when they
// do not exist yet. Existing tables are left untouched.
func EnsureTablesWithClient(ctx context.Context, client *bigquery.Client, datasetID string) error {
	ds := client.Dataset(datasetID)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("EnsureTables: dataset metadata: %w", err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Name: datasetID}); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("EnsureTables: creating dataset %s: %w", datasetID, err)
		}
	}

	for _, spec := range ledgerTables {
		table := ds.Table(spec.name)
		if _, err := table.Metadata(ctx); err == nil {
			continue
		} else if !isNotFound(err) {
			return fmt.Errorf("EnsureTables: table %s metadata: %w", spec.name, err)
		}

		schema, err := bigquery.InferSchema(spec.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: inferring schema for %s: %w", spec.name, err)
		}

		meta := &bigquery.TableMetadata{
			Schema:      schema,
			Description: spec.description,
		}
		if err := table.Create(ctx, meta); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("EnsureTables: creating table %s: %w", spec.name, err)
		}
	}

	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

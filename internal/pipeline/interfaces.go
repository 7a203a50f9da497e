package pipeline

import (
	"context"

	infra "github.com/dvloznov/qfx2qif/internal/infra/bigquery"
)

// StorageService reads statement inputs and writes QIF outputs.
// storage.Service is the production implementation.
type StorageService interface {
	ReadInput(ctx context.Context, uri string) ([]byte, error)
	WriteOutput(ctx context.Context, uri string, data []byte) error
}

// RunRecorder provides an interface for recording conversion runs.
// This interface enables mocking of the BigQuery ledger in tests.
type RunRecorder interface {
	// RecordRun inserts the run row and, for successful runs, its transactions.
	RecordRun(ctx context.Context, run *infra.ConversionRunRow, txs []*infra.TransactionRow) error
}

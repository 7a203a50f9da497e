package bigquery

import (
	"time"
	"unicode/utf8"

	"cloud.google.com/go/bigquery"
)

const (
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"

	// maxErrorMessageLen bounds error_message so a noisy failure cannot
	// exceed the streaming row size.
	maxErrorMessageLen = 2000
)

// ConversionRunRow is one OFX to QIF conversion as recorded in the ledger.
type ConversionRunRow struct {
	RunID string `bigquery:"run_id" json:"run_id"` // REQUIRED

	InputURI      string `bigquery:"input_uri" json:"input_uri"`           // REQUIRED
	OutputURI     string `bigquery:"output_uri" json:"output_uri"`         // REQUIRED
	InputChecksum string `bigquery:"input_checksum" json:"input_checksum"` // SHA-256 hex, empty if the input was never read
	Charset       string `bigquery:"charset" json:"charset"`               // header CHARSET value, may be empty

	IncludeMemo      bool  `bigquery:"include_memo" json:"include_memo"`
	TransactionCount int64 `bigquery:"transaction_count" json:"transaction_count"`
	MemoSuppressed   bool  `bigquery:"memo_suppressed" json:"memo_suppressed"`

	Status       string              `bigquery:"status" json:"status"`               // SUCCESS or FAILED
	ErrorMessage bigquery.NullString `bigquery:"error_message" json:"error_message"` // NULLABLE

	StartedTS  time.Time `bigquery:"started_ts" json:"started_ts"`
	FinishedTS time.Time `bigquery:"finished_ts" json:"finished_ts"`
}

// MarkFailed sets status=FAILED and a bounded error_message.
func (r *ConversionRunRow) MarkFailed(err error, finished time.Time) {
	r.Status = RunStatusFailed
	r.FinishedTS = finished
	r.ErrorMessage = bigquery.NullString{}
	if err != nil {
		r.ErrorMessage = bigquery.NullString{StringVal: truncateErrorMessage(err.Error()), Valid: true}
	}
}

// MarkSucceeded sets status=SUCCESS and clears error_message.
func (r *ConversionRunRow) MarkSucceeded(finished time.Time) {
	r.Status = RunStatusSuccess
	r.FinishedTS = finished
	r.ErrorMessage = bigquery.NullString{}
}

// truncateErrorMessage cuts msg to at most maxErrorMessageLen bytes without
// splitting a UTF-8 sequence.
func truncateErrorMessage(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

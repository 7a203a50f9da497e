package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/qfx2qif/internal/domain"
)

// qifDateLayout is the canonical MM/DD/YYYY date written to QIF.
const qifDateLayout = "01/02/2006"

// TransactionRow is one emitted QIF record exported alongside its run.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	RunID         string `bigquery:"run_id"`         // REQUIRED
	Sequence      int64  `bigquery:"sequence"`       // 1-based position in the QIF output

	PostedDate bigquery.NullDate `bigquery:"posted_date"` // NULLABLE, only for calendar-valid canonical dates
	RawDate    string            `bigquery:"raw_date"`    // the D line value as emitted

	Payee string              `bigquery:"payee"`
	Memo  bigquery.NullString `bigquery:"memo"` // NULLABLE, only when emitted

	Amount        string   `bigquery:"amount"`                  // the T line value as emitted
	AmountNumeric *big.Rat `bigquery:"amount_numeric,nullable"` // NULLABLE NUMERIC

	CreatedTS time.Time `bigquery:"created_ts"`
}

// ToTransactionRows maps the emitted records of a run to ledger rows.
// Memos are exported only when they were written to the QIF output.
func ToTransactionRows(runID string, txs []domain.Transaction, now time.Time) []*TransactionRow {
	rows := make([]*TransactionRow, 0, len(txs))
	for i, tx := range txs {
		row := &TransactionRow{
			TransactionID: uuid.NewString(),
			RunID:         runID,
			Sequence:      int64(i + 1),
			PostedDate:    PostedDate(tx.Date),
			RawDate:       tx.Date,
			Payee:         tx.Payee,
			Amount:        tx.Amount,
			AmountNumeric: AmountNumeric(tx.Amount),
			CreatedTS:     now,
		}
		if tx.IncludeMemo && tx.HasMemo() {
			row.Memo = bigquery.NullString{StringVal: tx.Memo, Valid: true}
		}
		rows = append(rows, row)
	}
	return rows
}

// PostedDate converts a canonical MM/DD/YYYY date to a DATE value. Dates that
// passed through unconverted, or that name no real calendar day, are NULL.
func PostedDate(date string) bigquery.NullDate {
	t, err := time.Parse(qifDateLayout, date)
	if err != nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
}

// AmountNumeric parses an emitted amount as an exact decimal, or nil.
func AmountNumeric(amount string) *big.Rat {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil
	}
	return d.Rat()
}

// SumAmounts totals the decimal-parsable amounts of txs and reports how many
// were skipped because they did not parse.
func SumAmounts(txs []domain.Transaction) (decimal.Decimal, int) {
	total := decimal.Zero
	skipped := 0
	for _, tx := range txs {
		d, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			skipped++
			continue
		}
		total = total.Add(d)
	}
	return total, skipped
}

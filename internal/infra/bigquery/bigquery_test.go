package bigquery

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/qfx2qif/internal/domain"
)

func TestPostedDate(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		want  civil.Date
	}{
		{in: "03/01/2024", valid: true, want: civil.Date{Year: 2024, Month: time.March, Day: 1}},
		{in: "12/31/1999", valid: true, want: civil.Date{Year: 1999, Month: time.December, Day: 31}},
		{in: "02/30/2024", valid: false},
		{in: "13/99/9999", valid: false},
		{in: "2024-03-01", valid: false},
		{in: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := PostedDate(tt.in)
			if got.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v", got.Valid, tt.valid)
			}
			if tt.valid && got.Date != tt.want {
				t.Errorf("Date = %v, want %v", got.Date, tt.want)
			}
		})
	}
}

func TestAmountNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want *big.Rat
	}{
		{in: "-1250.00", want: big.NewRat(-1250, 1)},
		{in: "3100.55", want: big.NewRat(310055, 100)},
		{in: "0.1", want: big.NewRat(1, 10)},
		{in: "12 USD", want: nil},
		{in: "", want: nil},
	}

	for _, tt := range tests {
		got := AmountNumeric(tt.in)
		if tt.want == nil {
			if got != nil {
				t.Errorf("AmountNumeric(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got == nil || got.Cmp(tt.want) != 0 {
			t.Errorf("AmountNumeric(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToTransactionRows(t *testing.T) {
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		{Date: "03/01/2024", Amount: "-5.00", Payee: "Cafe", Memo: "latte", IncludeMemo: true},
		{Date: "garbage", Amount: "n/a", Payee: "(unknown)", Memo: "hidden", IncludeMemo: false},
	}

	rows := ToTransactionRows("run-1", txs, now)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	first := rows[0]
	if first.RunID != "run-1" || first.Sequence != 1 {
		t.Errorf("first row run/sequence = %s/%d", first.RunID, first.Sequence)
	}
	if first.TransactionID == "" || first.TransactionID == rows[1].TransactionID {
		t.Errorf("transaction IDs must be set and unique: %q %q", first.TransactionID, rows[1].TransactionID)
	}
	if !first.PostedDate.Valid || first.RawDate != "03/01/2024" {
		t.Errorf("first row date = %+v raw %q", first.PostedDate, first.RawDate)
	}
	if !first.Memo.Valid || first.Memo.StringVal != "latte" {
		t.Errorf("first row memo = %+v, want latte", first.Memo)
	}
	if first.AmountNumeric == nil || first.AmountNumeric.Cmp(big.NewRat(-5, 1)) != 0 {
		t.Errorf("first row amount = %v", first.AmountNumeric)
	}
	if !first.CreatedTS.Equal(now) {
		t.Errorf("CreatedTS = %v, want %v", first.CreatedTS, now)
	}

	second := rows[1]
	if second.Sequence != 2 {
		t.Errorf("second row sequence = %d", second.Sequence)
	}
	if second.PostedDate.Valid {
		t.Error("unparseable date must be NULL")
	}
	if second.RawDate != "garbage" || second.Amount != "n/a" {
		t.Errorf("raw values not preserved: %q %q", second.RawDate, second.Amount)
	}
	if second.Memo.Valid {
		t.Error("suppressed memo must not be exported")
	}
	if second.AmountNumeric != nil {
		t.Error("unparseable amount must be NULL")
	}
}

func TestSumAmounts(t *testing.T) {
	txs := []domain.Transaction{
		{Amount: "-1250.00"},
		{Amount: "3100.55"},
		{Amount: "0.10"},
		{Amount: "oops"},
	}
	total, skipped := SumAmounts(txs)
	if total.String() != "1850.65" {
		t.Errorf("total = %s, want 1850.65", total)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestConversionRunRow_Status(t *testing.T) {
	finished := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	row := &ConversionRunRow{RunID: "r"}

	row.MarkFailed(errors.New(strings.Repeat("x", 3000)), finished)
	if row.Status != RunStatusFailed {
		t.Errorf("Status = %s, want FAILED", row.Status)
	}
	if !row.ErrorMessage.Valid || len(row.ErrorMessage.StringVal) != maxErrorMessageLen {
		t.Errorf("error message length = %d, want %d", len(row.ErrorMessage.StringVal), maxErrorMessageLen)
	}

	row.MarkSucceeded(finished)
	if row.Status != RunStatusSuccess || row.ErrorMessage.Valid {
		t.Errorf("after success: status %s, error %+v", row.Status, row.ErrorMessage)
	}
	if !row.FinishedTS.Equal(finished) {
		t.Errorf("FinishedTS = %v", row.FinishedTS)
	}
}

func TestLedgerSchemas(t *testing.T) {
	schema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		t.Fatalf("InferSchema(TransactionRow): %v", err)
	}

	fields := map[string]*bigquery.FieldSchema{}
	for _, f := range schema {
		fields[f.Name] = f
	}

	checks := []struct {
		name     string
		typ      bigquery.FieldType
		required bool
	}{
		{"transaction_id", bigquery.StringFieldType, true},
		{"posted_date", bigquery.DateFieldType, false},
		{"memo", bigquery.StringFieldType, false},
		{"amount_numeric", bigquery.NumericFieldType, false},
		{"created_ts", bigquery.TimestampFieldType, true},
	}
	for _, c := range checks {
		f, ok := fields[c.name]
		if !ok {
			t.Errorf("missing field %s", c.name)
			continue
		}
		if f.Type != c.typ || f.Required != c.required {
			t.Errorf("%s: type %s required %v, want %s %v", c.name, f.Type, f.Required, c.typ, c.required)
		}
	}

	if _, err := bigquery.InferSchema(ConversionRunRow{}); err != nil {
		t.Errorf("InferSchema(ConversionRunRow): %v", err)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	notFound := fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusNotFound})
	conflict := &googleapi.Error{Code: http.StatusConflict}

	if !isNotFound(notFound) || isNotFound(conflict) || isNotFound(errors.New("plain")) {
		t.Error("isNotFound misclassified")
	}
	if !isAlreadyExists(conflict) || isAlreadyExists(notFound) {
		t.Error("isAlreadyExists misclassified")
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantLen int
	}{
		{"short", "boom", 4},
		{"exact", strings.Repeat("x", maxErrorMessageLen), maxErrorMessageLen},
		{"ascii cut", strings.Repeat("x", maxErrorMessageLen+10), maxErrorMessageLen},
		// "é" is two bytes; the second would land past the limit.
		{"rune boundary", strings.Repeat("x", maxErrorMessageLen-1) + "é", maxErrorMessageLen - 1},
		{"three-byte rune", strings.Repeat("x", maxErrorMessageLen-2) + "€€", maxErrorMessageLen - 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateErrorMessage(tt.msg)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
			if !utf8.ValidString(got) {
				t.Error("result is not valid UTF-8")
			}
		})
	}
}

// Package convert maps OFX transaction records to QIF bank entries.
package convert

import (
	"strings"

	"github.com/dvloznov/qfx2qif/internal/domain"
	"github.com/dvloznov/qfx2qif/internal/normalize"
	"github.com/dvloznov/qfx2qif/internal/ofx"
)

// UnknownPayee replaces an empty NAME.
const UnknownPayee = "(unknown)"

// Field tags read from each record.
const (
	TagDatePosted = "DTPOSTED"
	TagAmount     = "TRNAMT"
	TagName       = "NAME"
	TagMemo       = "MEMO"
)

// RawFields are the trimmed tag values of one record. Absent tags are "".
type RawFields struct {
	DatePosted string
	Amount     string
	Name       string
	Memo       string
}

// ExtractFields pulls the four fields out of a record body.
func ExtractFields(record []byte) RawFields {
	get := func(tag string) string {
		v, _ := ofx.Extract(record, tag)
		return strings.TrimSpace(v)
	}
	return RawFields{
		DatePosted: get(TagDatePosted),
		Amount:     get(TagAmount),
		Name:       get(TagName),
		Memo:       get(TagMemo),
	}
}

// MapRecord builds a Transaction from a record body. It returns false when
// the record has no amount; such records are dropped without a trace.
// The memo is always carried; whether it is written is up to includeMemo.
func MapRecord(record []byte, includeMemo bool) (domain.Transaction, bool) {
	raw := ExtractFields(record)
	return MapFields(raw, includeMemo)
}

// MapFields applies normalization and fallbacks to already extracted fields.
func MapFields(raw RawFields, includeMemo bool) (domain.Transaction, bool) {
	name := normalize.SingleLine(raw.Name)
	memo := normalize.SingleLine(raw.Memo)
	date, _ := normalize.NormalizeDate(raw.DatePosted)

	if raw.Amount == "" {
		return domain.Transaction{}, false
	}
	missing := name == ""
	if missing {
		name = UnknownPayee
	}

	return domain.Transaction{
		Date:         date,
		Amount:       normalize.CleanAmount(raw.Amount),
		Payee:        name,
		Memo:         memo,
		PayeeMissing: missing,
		IncludeMemo:  includeMemo,
	}, true
}

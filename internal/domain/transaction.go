package domain

// Transaction is one normalized record, ready to be written as a QIF entry.
// It has no identity beyond its position in the output sequence.
type Transaction struct {
	Date   string // "MM/DD/YYYY", or the raw DTPOSTED token when that failed
	Amount string // TRNAMT with grouping commas removed
	Payee  string // NAME on one line, "(unknown)" when empty
	Memo   string // MEMO on one line, possibly empty

	// PayeeMissing is set when NAME was empty and Payee is the placeholder.
	PayeeMissing bool

	// IncludeMemo is copied from the run configuration, not derived from the record.
	IncludeMemo bool
}

// HasMemo reports whether the source record carried a memo.
func (t Transaction) HasMemo() bool {
	return t.Memo != ""
}

// MemoSuppressed reports whether a memo exists but will not be written.
func (t Transaction) MemoSuppressed() bool {
	return t.HasMemo() && !t.IncludeMemo
}

// SourcePayee is the payee as it appeared in the record: "" when NAME was empty.
func (t Transaction) SourcePayee() string {
	if t.PayeeMissing {
		return ""
	}
	return t.Payee
}

package convert

import (
	"fmt"
	"io"

	"github.com/dvloznov/qfx2qif/internal/domain"
	"github.com/dvloznov/qfx2qif/internal/ofx"
	"github.com/dvloznov/qfx2qif/internal/qif"
)

// Options is the configuration the conversion pass consumes.
type Options struct {
	IncludeMemo bool

	// OnRecord, when set, is called after each transaction is written.
	OnRecord func(tx domain.Transaction)
}

// Result carries the counters of one conversion pass.
type Result struct {
	Transactions   []domain.Transaction
	Count          int
	MemoSuppressed bool
}

// Convert scans buf for transaction records and writes them to w as QIF,
// in input order. Content problems never fail the pass; the only errors
// come from w.
func Convert(buf []byte, opts Options, w io.Writer) (*Result, error) {
	out := qif.NewWriter(w)
	if err := out.WriteHeader(); err != nil {
		return nil, fmt.Errorf("Convert: header: %w", err)
	}

	res := &Result{}
	for pos := 0; ; {
		span, ok := ofx.NextRecord(buf, pos)
		if !ok {
			break
		}
		pos = span.AfterEnd

		tx, ok := MapRecord(span.Content(buf), opts.IncludeMemo)
		if !ok {
			continue
		}
		if err := out.Write(tx); err != nil {
			return nil, fmt.Errorf("Convert: record %d: %w", out.Count()+1, err)
		}
		if tx.MemoSuppressed() {
			res.MemoSuppressed = true
		}
		res.Transactions = append(res.Transactions, tx)
		if opts.OnRecord != nil {
			opts.OnRecord(tx)
		}
	}

	if err := out.Flush(); err != nil {
		return nil, fmt.Errorf("Convert: %w", err)
	}
	res.Count = out.Count()
	return res, nil
}

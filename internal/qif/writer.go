// Package qif writes bank transactions in the line-oriented QIF format.
package qif

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dvloznov/qfx2qif/internal/domain"
)

// Header is the first line of every bank QIF file.
const Header = "!Type:Bank"

// Writer emits a header followed by one block per transaction:
//
//	D<date>
//	P<payee>
//	M<memo>     (only when the memo is present and included)
//	T<amount>
//	C*
//	^
type Writer struct {
	w     *bufio.Writer
	count int
	err   error
}

// NewWriter returns a Writer buffering into w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteHeader writes the bank type line.
func (q *Writer) WriteHeader() error {
	q.line("", Header)
	return q.err
}

// Write emits one transaction block and counts it.
func (q *Writer) Write(tx domain.Transaction) error {
	q.line("D", tx.Date)
	q.line("P", tx.Payee)
	if tx.IncludeMemo && tx.HasMemo() {
		q.line("M", tx.Memo)
	}
	q.line("T", tx.Amount)
	q.line("C", "*")
	q.line("^", "")
	if q.err != nil {
		return q.err
	}
	q.count++
	return nil
}

// Count is the number of transactions written so far.
func (q *Writer) Count() int {
	return q.count
}

// Flush writes any buffered data to the underlying writer.
func (q *Writer) Flush() error {
	if q.err != nil {
		return q.err
	}
	if err := q.w.Flush(); err != nil {
		q.err = fmt.Errorf("qif: flush: %w", err)
	}
	return q.err
}

func (q *Writer) line(prefix, value string) {
	if q.err != nil {
		return
	}
	if _, err := q.w.WriteString(prefix + value + "\n"); err != nil {
		q.err = fmt.Errorf("qif: write: %w", err)
	}
}

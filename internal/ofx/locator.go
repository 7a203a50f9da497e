package ofx

const (
	recordOpen  = "<STMTTRN"
	recordClose = "</STMTTRN>"
)

// Span delimits one transaction record inside the buffer it was found in.
// Content starts at ContentStart; AfterEnd is the offset just past the
// closing </STMTTRN> marker and is where the next search should resume.
type Span struct {
	ContentStart int
	CloseStart   int
	AfterEnd     int
}

// Content returns the record body, excluding the closing marker.
func (s Span) Content(buf []byte) []byte {
	return buf[s.ContentStart:s.CloseStart]
}

// NextRecord finds the first <STMTTRN ...>...</STMTTRN> block at or after
// from. The opening marker may carry attributes before its '>'. An opening
// marker without a matching close ends the scan.
func NextRecord(buf []byte, from int) (Span, bool) {
	if from < 0 || from > len(buf) {
		return Span{}, false
	}
	open := indexFold(buf, from, recordOpen)
	if open < 0 {
		return Span{}, false
	}
	gt := -1
	for i := open + len(recordOpen); i < len(buf); i++ {
		if buf[i] == '>' {
			gt = i
			break
		}
	}
	if gt < 0 {
		return Span{}, false
	}
	contentStart := gt + 1
	closeStart := indexFold(buf, contentStart, recordClose)
	if closeStart < 0 {
		return Span{}, false
	}
	return Span{
		ContentStart: contentStart,
		CloseStart:   closeStart,
		AfterEnd:     closeStart + len(recordClose),
	}, true
}

// Records returns every record span in input order.
func Records(buf []byte) []Span {
	var spans []Span
	for pos := 0; ; {
		span, ok := NextRecord(buf, pos)
		if !ok {
			return spans
		}
		spans = append(spans, span)
		pos = span.AfterEnd
	}
}

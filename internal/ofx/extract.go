// Package ofx locates transaction records in an OFX/SGML export and pulls
// tagged values out of them. The search is tolerant: no nesting, attributes
// or entities are understood, only <TAG>value</TAG> and unterminated
// <TAG>value constructs.
package ofx

// MaxFieldLen caps every extracted value. Longer content is cut silently.
const MaxFieldLen = 4095

// Extract returns the content of the first <tag> in buf, matched
// case-insensitively. Content runs to the first </tag> after the open
// marker, or, when there is none, to the next '<' or the end of buf.
// The second return value is false when the open marker is absent.
func Extract(buf []byte, tag string) (string, bool) {
	start, ok := findOpen(buf, tag)
	if !ok {
		return "", false
	}
	end := findCloseOrFallback(buf, start, tag)
	return truncate(buf[start:end]), true
}

// findOpen returns the offset just past "<tag>".
func findOpen(buf []byte, tag string) (int, bool) {
	open := "<" + tag + ">"
	i := indexFold(buf, 0, open)
	if i < 0 {
		return 0, false
	}
	return i + len(open), true
}

// findCloseOrFallback returns the offset where content starting at from ends.
func findCloseOrFallback(buf []byte, from int, tag string) int {
	if i := indexFold(buf, from, "</"+tag+">"); i >= 0 {
		return i
	}
	for i := from; i < len(buf); i++ {
		if buf[i] == '<' {
			return i
		}
	}
	return len(buf)
}

func truncate(b []byte) string {
	if len(b) > MaxFieldLen {
		b = b[:MaxFieldLen]
	}
	return string(b)
}

// indexFold is an ASCII case-insensitive bytes.Index starting at from.
func indexFold(buf []byte, from int, needle string) int {
	n := len(needle)
	if n == 0 {
		return from
	}
	first := lower(needle[0])
	for i := from; i+n <= len(buf); i++ {
		if lower(buf[i]) != first {
			continue
		}
		if equalFold(buf[i:i+n], needle) {
			return i
		}
	}
	return -1
}

func equalFold(b []byte, s string) bool {
	for i := 0; i < len(s); i++ {
		if lower(b[i]) != lower(s[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

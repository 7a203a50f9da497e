package ofx

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// CharsetMode controls the pre-pass that runs before record extraction.
type CharsetMode string

const (
	// CharsetAuto transcodes single-byte charsets named in the OFX header to UTF-8.
	CharsetAuto CharsetMode = "auto"
	// CharsetRaw leaves the input bytes untouched.
	CharsetRaw CharsetMode = "raw"
)

// ParseCharsetMode accepts "auto" or "raw", case-insensitively.
func ParseCharsetMode(s string) (CharsetMode, error) {
	switch CharsetMode(strings.ToLower(strings.TrimSpace(s))) {
	case CharsetAuto, "":
		return CharsetAuto, nil
	case CharsetRaw:
		return CharsetRaw, nil
	default:
		return "", fmt.Errorf("unknown charset mode %q (want auto or raw)", s)
	}
}

// DetectCharset returns the CHARSET value of the SGML header, i.e. the
// KEY:VALUE lines before the first '<'. It returns "" when there is none.
func DetectCharset(buf []byte) string {
	header := buf
	if i := bytes.IndexByte(buf, '<'); i >= 0 {
		header = buf[:i]
	}
	sc := bufio.NewScanner(bytes.NewReader(header))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), "CHARSET") {
			return strings.ToUpper(strings.TrimSpace(value))
		}
	}
	return ""
}

// Decode returns buf converted to UTF-8 when mode is auto and the header
// names a supported single-byte charset. Otherwise buf is returned as is.
// The second value is the charset that was applied, or "" for none.
func Decode(buf []byte, mode CharsetMode) ([]byte, string, error) {
	if mode == CharsetRaw {
		return buf, "", nil
	}
	name := DetectCharset(buf)
	enc := lookupCharset(name)
	if enc == nil {
		return buf, "", nil
	}
	out, err := enc.NewDecoder().Bytes(buf)
	if err != nil {
		return nil, "", fmt.Errorf("Decode: charset %s: %w", name, err)
	}
	return out, name, nil
}

func lookupCharset(name string) encoding.Encoding {
	switch name {
	case "1252", "WINDOWS-1252", "CP1252":
		return charmap.Windows1252
	case "8859-1", "ISO-8859-1", "ISO8859-1":
		return charmap.ISO8859_1
	default:
		return nil
	}
}

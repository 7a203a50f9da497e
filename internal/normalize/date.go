// Package normalize turns raw OFX field tokens into their QIF forms.
package normalize

// ToCanonicalDate converts a token starting with YYYYMMDD into "MM/DD/YYYY".
// Only digit-ness is checked, so month 13 or day 99 pass through unchanged.
func ToCanonicalDate(token string) (string, bool) {
	if len(token) < 8 {
		return "", false
	}
	for i := 0; i < 8; i++ {
		if token[i] < '0' || token[i] > '9' {
			return "", false
		}
	}
	return token[4:6] + "/" + token[6:8] + "/" + token[0:4], true
}

// DateStrategy is one attempt at producing a QIF date from a raw token.
type DateStrategy struct {
	Name    string
	Convert func(token string) (string, bool)
}

// DateStrategies is the degrade-and-retry order used by NormalizeDate:
// the whole token, then its first eight bytes (dropping any time-of-day or
// timezone suffix), then the token verbatim.
var DateStrategies = []DateStrategy{
	{Name: "full", Convert: ToCanonicalDate},
	{Name: "prefix8", Convert: func(token string) (string, bool) {
		if len(token) < 8 {
			return "", false
		}
		return ToCanonicalDate(token[:8])
	}},
	{Name: "raw", Convert: func(token string) (string, bool) {
		return token, true
	}},
}

// NormalizeDate runs DateStrategies in order and returns the first result
// along with the name of the strategy that produced it. The raw strategy
// always succeeds, so an unparseable token comes back verbatim.
func NormalizeDate(token string) (date string, strategy string) {
	for _, s := range DateStrategies {
		if out, ok := s.Convert(token); ok {
			return out, s.Name
		}
	}
	return token, "raw"
}

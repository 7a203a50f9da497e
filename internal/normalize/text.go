package normalize

import "strings"

// CleanAmount drops every comma from an amount token. Nothing else is
// validated or changed.
func CleanAmount(token string) string {
	return strings.ReplaceAll(token, ",", "")
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// SingleLine replaces each CR and LF with a space so the value fits on one
// QIF line.
func SingleLine(s string) string {
	return lineBreaks.Replace(s)
}

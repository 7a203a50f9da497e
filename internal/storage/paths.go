package storage

import (
	"errors"
	"strings"
)

const (
	// InputExtension is appended to an input name that has none.
	InputExtension = ".qfx"
	// OutputExtension replaces the input extension when deriving an output name.
	OutputExtension = ".qif"
)

// ErrNoInput is returned by ResolvePaths when no input location was given.
var ErrNoInput = errors.New("input filename required")

// ResolvePaths applies the converter's file-name defaults:
//   - an input without an extension gets ".qfx";
//   - an empty output is the input with its extension replaced by ".qif";
//   - an output without an extension gets ".qif".
//
// Only the final path element is inspected for an extension, so dots in
// directory or bucket names are ignored.
func ResolvePaths(input, output string) (string, string, error) {
	if input == "" {
		return "", "", ErrNoInput
	}

	if !hasExtension(input) {
		input += InputExtension
	}

	switch {
	case output == "":
		output = trimExtension(input) + OutputExtension
	case !hasExtension(output):
		output += OutputExtension
	}

	return input, output, nil
}

// lastElementStart returns the index where the final path element begins.
func lastElementStart(p string) int {
	if IsGCSURI(p) {
		rest := p[len(GCSScheme):]
		if i := strings.LastIndexByte(rest, '/'); i >= 0 {
			return len(GCSScheme) + i + 1
		}
		return len(p)
	}
	return strings.LastIndexAny(p, `/\`) + 1
}

func hasExtension(p string) bool {
	return strings.IndexByte(p[lastElementStart(p):], '.') >= 0
}

// trimExtension drops everything from the last dot of the final element.
func trimExtension(p string) string {
	start := lastElementStart(p)
	if i := strings.LastIndexByte(p[start:], '.'); i >= 0 {
		return p[:start+i]
	}
	return p
}

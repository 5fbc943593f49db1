package ingest

import (
	"strings"

	"itemexport/internal/catalog"
)

// DefaultNonTextDelimiter separates the values of multi-valued non-text cells.
const DefaultNonTextDelimiter = "\n"

// splitFunc turns one raw cell into its individual values.
type splitFunc func(raw string) []string

// splitterFor picks the split strategy for a scalar type:
//
//	text      bare LF (an LF not preceded by CR); CRLF stays inside a value
//	non-text  the configured delimiter
//
// A text value that itself contained a bare LF is indistinguishable from
// two values and is split; the source renders such values the same way.
func splitterFor(t catalog.ScalarType, nonText string) splitFunc {
	if t == catalog.Text {
		return splitBareLF
	}
	if nonText == "" {
		nonText = DefaultNonTextDelimiter
	}
	return func(raw string) []string {
		if raw == "" {
			return nil
		}
		return strings.Split(raw, nonText)
	}
}

func splitBareLF(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\n' || (i > 0 && raw[i-1] == '\r') {
			continue
		}
		out = append(out, raw[start:i])
		start = i + 1
	}
	return append(out, raw[start:])
}

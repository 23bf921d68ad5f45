package schema

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeHeader returns the canonical form of a header cell: BOM and edge
// whitespace removed, Unicode case-folded.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	h = strings.TrimSpace(h)
	// Caser values are stateful; one per call.
	return cases.Fold().String(h)
}

// NormalizeHeaders applies NormalizeHeader to every cell.
func NormalizeHeaders(hdr []string) []string {
	out := make([]string, len(hdr))
	for i, h := range hdr {
		out[i] = NormalizeHeader(h)
	}
	return out
}

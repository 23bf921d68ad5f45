package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a scanned or decoded column value to its text form.
//
// Drivers disagree on what a TEXT column scans into (string, []byte, nil)
// and document stores may hand back numbers for hand-edited rows; this keeps
// every backend returning the same []string rows.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case int32:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

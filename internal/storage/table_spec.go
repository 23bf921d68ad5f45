// TableSpec lives here so the ingestion engine, the catalog and every backend
// can share it without import cycles.
package storage

import (
	"fmt"
	"regexp"
	"strings"

	"csvload/internal/schema"
)

// TableSpec describes one text-valued table with a single-column primary key.
type TableSpec struct {
	Name    string   `json:"name"`
	Key     string   `json:"key"`
	Columns []string `json:"columns"`
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SpecFor derives the table for a record schema: table name = schema name,
// one TEXT column per field, primary key = schema key.
func SpecFor(s schema.RecordSchema) TableSpec {
	return TableSpec{
		Name:    s.Name,
		Key:     s.Key,
		Columns: append([]string(nil), s.Fields...),
	}
}

// Validate checks that every identifier is a plain lower-case SQL name and
// that Key is one of Columns. Backends still quote identifiers; this keeps
// table names coming from URLs and config out of DDL unless they are plain.
func (t TableSpec) Validate() error {
	if !identRe.MatchString(t.Name) {
		return fmt.Errorf("%w: table name %q", ErrInvalidTable, t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidTable, t.Name)
	}
	for _, c := range t.Columns {
		if !identRe.MatchString(c) {
			return fmt.Errorf("%w: %s column %q", ErrInvalidTable, t.Name, c)
		}
	}
	if t.KeyIndex() < 0 {
		return fmt.Errorf("%w: %s key %q is not a column", ErrInvalidTable, t.Name, t.Key)
	}
	return nil
}

// KeyIndex returns the position of Key in Columns, or -1.
func (t TableSpec) KeyIndex() int {
	for i, c := range t.Columns {
		if c == t.Key {
			return i
		}
	}
	return -1
}

// NonKeyColumns returns Columns without Key, in order.
func (t TableSpec) NonKeyColumns() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c != t.Key {
			out = append(out, c)
		}
	}
	return out
}

// CheckValues verifies a row has exactly one value per column.
func (t TableSpec) CheckValues(values []string) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("storage: %s: got %d values, want %d", t.Name, len(values), len(t.Columns))
	}
	return nil
}

// NonKeyValues returns values without the key position.
func (t TableSpec) NonKeyValues(values []string) []string {
	k := t.KeyIndex()
	out := make([]string, 0, len(values))
	for i, v := range values {
		if i != k {
			out = append(out, v)
		}
	}
	return out
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

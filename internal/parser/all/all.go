// Package all links every file format into the binary.
package all

import (
	_ "csvload/internal/parser/csv"
	_ "csvload/internal/parser/htmltable"
	_ "csvload/internal/parser/json"
)

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"csvload/internal/ingest"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

// writeStructured handles the json and yaml formats. It reports false for
// table output, which each caller renders itself.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	return tbl
}

// detection is one row of `csvload detect`.
type detection struct {
	File   string `json:"file" yaml:"file"`
	Bytes  int64  `json:"bytes" yaml:"bytes"`
	Schema string `json:"tableType" yaml:"table_type"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

func writeDetections(w io.Writer, format string, rows []detection) error {
	if done, err := writeStructured(w, format, rows); done {
		return err
	}
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"File", "Size", "Table", "Error"})
	for _, r := range rows {
		tbl.AppendRow(table.Row{r.File, humanize.Bytes(uint64(r.Bytes)), r.Schema, r.Error})
	}
	tbl.Render()
	return nil
}

func writeReports(w io.Writer, format string, reps []ingest.Report) error {
	if done, err := writeStructured(w, format, reps); done {
		return err
	}
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"File", "Table", "Status", "Accepted", "Inserted", "Skipped rows", "Error"})
	var accepted, inserted int
	for _, r := range reps {
		tbl.AppendRow(table.Row{
			r.Filename, r.Schema, r.Status,
			humanize.Comma(int64(r.RowsAccepted)), humanize.Comma(int64(r.RowsInserted)),
			skippedCell(r.SkippedRows), r.Error,
		})
		accepted += r.RowsAccepted
		inserted += r.RowsInserted
	}
	tbl.AppendFooter(table.Row{
		fmt.Sprintf("%d files", len(reps)), "", "",
		humanize.Comma(int64(accepted)), humanize.Comma(int64(inserted)), "", "",
	})
	tbl.Render()
	return nil
}

const maxSkippedShown = 10

func skippedCell(idx []int) string {
	if len(idx) == 0 {
		return ""
	}
	n := len(idx)
	if n > maxSkippedShown {
		idx = idx[:maxSkippedShown]
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = fmt.Sprint(v)
	}
	s := strings.Join(parts, ",")
	if n > maxSkippedShown {
		s += fmt.Sprintf(" (+%d)", n-maxSkippedShown)
	}
	return s
}

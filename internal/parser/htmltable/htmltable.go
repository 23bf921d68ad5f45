// Package htmltable reads the first <table> of an HTML export as tabular
// records. Spreadsheet tools and admin panels often export "CSV" downloads as
// HTML tables; this lets those files go through the same detect/ingest path.
package htmltable

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"csvload/internal/parser"
	"csvload/internal/schema"
)

// MaxHeaderBytes bounds how much of a document ReadHeader may consume.
// HTML has no line framing, so the probe needs the document up to the
// first table row.
const MaxHeaderBytes = 8 << 20

var errNoTable = errors.New("no <table> element")

func init() {
	for _, ext := range []string{".html", ".htm"} {
		parser.Register(ext, func(opt parser.Options) parser.Format { return New(opt) })
	}
}

// Format reads HTML tables. Only Options.TrimSpace applies.
type Format struct {
	opt parser.Options
}

func New(opt parser.Options) *Format { return &Format{opt: opt} }

// rows returns the text of every cell of every <tr> in the first table.
func (f *Format) rows(r io.Reader) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &parser.ParseError{Err: err}
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, nil
	}

	var out [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
			v := c.Text()
			if f.opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			cells = append(cells, v)
		})
		out = append(out, cells)
	})
	return out, nil
}

func (f *Format) ReadHeader(r io.Reader) ([]string, error) {
	rows, err := f.rows(io.LimitReader(r, MaxHeaderBytes))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	hdr := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		hdr[i] = strings.TrimSpace(h)
	}
	return hdr, nil
}

// ReadRecords maps each <tr> after the first onto the header cells.
// Line is the 1-based row number inside the table.
func (f *Format) ReadRecords(ctx context.Context, r io.Reader) ([]schema.RawRecord, error) {
	rows, err := f.rows(r)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, &parser.ParseError{Err: errNoTable}
	}
	keys := schema.NormalizeHeaders(rows[0])

	out := make([]schema.RawRecord, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(keys))
		for j, k := range keys {
			if j >= len(cells) {
				break
			}
			if _, dup := fields[k]; dup || k == "" {
				continue
			}
			fields[k] = cells[j]
		}
		out = append(out, schema.RawRecord{Index: i, Line: i + 2, Fields: fields})
	}
	return out, nil
}

package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"csvload/internal/parser"
	"csvload/internal/schema"
)

// MaxHeaderBytes bounds how much of a file ReadHeader may consume.
const MaxHeaderBytes = 1 << 20

func init() {
	parser.Register(parser.DefaultExt, func(opt parser.Options) parser.Format { return New(opt) })
	parser.Register(".csv", func(opt parser.Options) parser.Format { return New(opt) })
	parser.Register(".txt", func(opt parser.Options) parser.Format { return New(opt) })
	parser.Register(".tsv", func(opt parser.Options) parser.Format {
		opt.Comma = '\t'
		return New(opt)
	})
}

// Format reads delimited text.
type Format struct {
	opt parser.Options
}

// New returns a delimited-text Format. A zero Comma means ','.
func New(opt parser.Options) *Format {
	if opt.Comma == 0 {
		opt.Comma = ','
	}
	return &Format{opt: opt}
}

// decode strips a UTF-8 BOM and transcodes UTF-16 input that carries one.
func decode(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func (f *Format) newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(decode(r))
	cr.Comma = f.opt.Comma
	cr.LazyQuotes = f.opt.LazyQuotes
	cr.ReuseRecord = true
	// Short rows are a per-row validation concern, not a parse failure.
	cr.FieldsPerRecord = -1
	return cr
}

// ReadHeader reads the first record only. Nothing past MaxHeaderBytes is
// consumed from r.
func (f *Format) ReadHeader(r io.Reader) ([]string, error) {
	cr := f.newReader(io.LimitReader(r, MaxHeaderBytes))
	rec, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, &parser.ParseError{Line: 1, Err: fmt.Errorf("read header: %w", err)}
	}
	out := make([]string, len(rec))
	for i, h := range rec {
		out[i] = strings.TrimSpace(h)
	}
	return out, nil
}

// ReadRecords parses the whole input before returning, so a malformed line
// anywhere fails the file before any record is handed to the caller.
//
// Edge cases:
//   - Empty input: no records, no error.
//   - Short rows: missing trailing fields are absent from RawRecord.Fields.
//   - Cells past the header width are dropped.
//   - Duplicate header names: the first column wins.
func (f *Format) ReadRecords(ctx context.Context, r io.Reader) ([]schema.RawRecord, error) {
	cr := f.newReader(r)

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, &parser.ParseError{Line: lineOf(err, 1), Err: fmt.Errorf("read header: %w", err)}
	}
	keys := schema.NormalizeHeaders(hdr)

	var out []schema.RawRecord
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, &parser.ParseError{Line: lineOf(err, 0), Err: fmt.Errorf("csv read: %w", err)}
		}
		line, _ := cr.FieldPos(0)

		fields := make(map[string]string, len(keys))
		for i, k := range keys {
			if i >= len(rec) {
				break
			}
			if k == "" {
				continue
			}
			if _, dup := fields[k]; dup {
				continue
			}
			v := rec[i]
			if f.opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			fields[k] = v
		}
		out = append(out, schema.RawRecord{Index: idx, Line: line, Fields: fields})
	}
}

func lineOf(err error, fallback int) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.StartLine
	}
	return fallback
}

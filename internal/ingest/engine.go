// Package ingest loads one classified file into its table.
//
// A file is parsed completely before any row is written. Rows are then
// validated and upserted one at a time, in file order, with first-write-wins
// semantics. A bad row is skipped and reported; a parse or storage failure
// ends the file. Rows committed before a storage failure stay committed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"csvload/internal/metrics"
	"csvload/internal/parser"
	"csvload/internal/schema"
	"csvload/internal/storage"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// ErrUnregisteredSchema is returned when asked to ingest into a schema name
// the registry does not know (other than schema.Unknown).
var ErrUnregisteredSchema = errors.New("ingest: unregistered schema")

// StorageError is a store failure while writing a row. It is fatal for the
// rest of the file.
type StorageError struct {
	// Row is the 0-based data row that failed, or -1 for table setup.
	Row int
	Err error
}

func (e *StorageError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("storage: ensure table: %v", e.Err)
	}
	return fmt.Sprintf("storage: row %d: %v", e.Row, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SkippedRow is a data row rejected by validation.
type SkippedRow struct {
	Index  int    `json:"index" yaml:"index"`
	Line   int    `json:"line" yaml:"line"`
	Reason string `json:"reason" yaml:"reason"`
}

// Result describes one Ingest call.
//
// Accepted counts rows that reached the upsert step, including rows whose
// key already existed. Inserted counts rows that were new. For a run that
// finished, Accepted + len(Skipped) == TotalRows.
type Result struct {
	Schema    string       `json:"schema" yaml:"schema"`
	TotalRows int          `json:"totalRows" yaml:"total_rows"`
	Accepted  int          `json:"accepted" yaml:"accepted"`
	Inserted  int          `json:"inserted" yaml:"inserted"`
	Skipped   []SkippedRow `json:"skipped" yaml:"skipped"`
}

// SkippedIndexes returns the data-row indexes of skipped rows, in order.
func (r Result) SkippedIndexes() []int {
	out := make([]int, len(r.Skipped))
	for i, s := range r.Skipped {
		out[i] = s.Index
	}
	return out
}

// Engine ingests files into a Store.
type Engine struct {
	Store storage.Store

	// Registry resolves schema names. Nil means schema.Default().
	Registry *schema.Registry

	// Parser configures file parsing. The zero value parses comma-delimited
	// text without trimming; use parser.DefaultOptions for the usual setup.
	Parser parser.Options

	// Workers bounds how many files Batch processes at once. <= 0 means 4.
	Workers int

	Logger Logger
}

// NewEngine returns an Engine over store with default parser options.
func NewEngine(store storage.Store, logger Logger) *Engine {
	return &Engine{Store: store, Parser: parser.DefaultOptions(), Logger: logger}
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return e.Logger.Printf
}

func (e *Engine) registry() *schema.Registry {
	if e.Registry == nil {
		return schema.Default()
	}
	return e.Registry
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Ingest parses r (named filename, whose extension picks the format) and
// loads its rows into schemaName's table.
//
// schema.Unknown is a no-op: zero Result, nil error, nothing read or written.
//
// Errors:
//   - ErrUnregisteredSchema for any other unknown name.
//   - *parser.ParseError: nothing was written.
//   - *StorageError: rows before Row are committed, the rest were not tried.
//   - ctx.Err() on cancellation, between rows.
//
// The returned Result is meaningful (partial) even when err != nil.
func (e *Engine) Ingest(ctx context.Context, r io.Reader, filename, schemaName string) (res Result, err error) {
	res = Result{Schema: schemaName}
	if schemaName == schema.Unknown {
		return res, nil
	}
	if e.Store == nil {
		return res, fmt.Errorf("ingest: Store is required")
	}

	sch, ok := e.registry().Lookup(schemaName)
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnregisteredSchema, schemaName)
	}
	spec := storage.SpecFor(sch)
	logf := e.logger()
	start := time.Now()

	defer func() {
		status := StatusOf(schemaName, err)
		metrics.RecordFile(schemaName, status, time.Since(start))
		metrics.RecordRows(schemaName, metrics.OutcomeInserted, res.Inserted)
		metrics.RecordRows(schemaName, metrics.OutcomeDuplicate, res.Accepted-res.Inserted)
		metrics.RecordRows(schemaName, metrics.OutcomeSkipped, len(res.Skipped))
		logf("ingest: file=%s schema=%s status=%s rows=%d accepted=%d inserted=%d skipped=%d duration=%s",
			filename, schemaName, status, res.TotalRows, res.Accepted, res.Inserted, len(res.Skipped), durMS(start))
	}()

	if err := e.Store.EnsureTable(ctx, spec); err != nil {
		return res, &StorageError{Row: -1, Err: err}
	}

	f, err := parser.ForFile(filename, e.Parser)
	if err != nil {
		return res, err
	}
	recs, err := f.ReadRecords(ctx, r)
	if err != nil {
		return res, fmt.Errorf("ingest %s: %w", filename, err)
	}
	res.TotalRows = len(recs)

	for _, raw := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, err := sch.Validate(raw)
		if err != nil {
			sk := SkippedRow{Index: raw.Index, Line: raw.Line, Reason: reasonOf(err)}
			res.Skipped = append(res.Skipped, sk)
			logf("ingest: file=%s row=%d line=%d skipped reason=%q", filename, sk.Index, sk.Line, sk.Reason)
			continue
		}

		inserted, err := e.Store.InsertIgnore(ctx, spec, rec.Values())
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return res, cerr
			}
			return res, &StorageError{Row: raw.Index, Err: err}
		}
		res.Accepted++
		if inserted {
			res.Inserted++
		}
	}
	return res, nil
}

// reasonOf renders a validation failure for reports.
func reasonOf(err error) string {
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		if len(ve.Missing) > 0 {
			return fmt.Sprintf("%s: %v", ve.Reason, ve.Missing)
		}
		return ve.Reason
	}
	return err.Error()
}

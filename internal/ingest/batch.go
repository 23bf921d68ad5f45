package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"csvload/internal/schema"
)

// Report statuses.
const (
	StatusOK            = "ok"
	StatusUnknownSchema = "unknown_schema"
	StatusError         = "error"
)

// StatusOf maps an Ingest outcome to a report status.
func StatusOf(schemaName string, err error) string {
	switch {
	case err != nil:
		return StatusError
	case schemaName == schema.Unknown:
		return StatusUnknownSchema
	default:
		return StatusOK
	}
}

// FileJob is one file to ingest.
type FileJob struct {
	// Filename is reported back and its extension selects the format.
	Filename string
	Schema   string
	// Open returns the file content. It is called once, from a worker.
	Open func() (io.ReadCloser, error)
}

// PathJob returns a FileJob reading path from disk.
func PathJob(path, name, schemaName string) FileJob {
	return FileJob{
		Filename: name,
		Schema:   schemaName,
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Report is the per-file outcome of a batch.
type Report struct {
	Filename     string `json:"filename" yaml:"filename"`
	Schema       string `json:"table" yaml:"table"`
	RowsAccepted int    `json:"rowCount" yaml:"row_count"`
	RowsInserted int    `json:"rowsInserted" yaml:"rows_inserted"`
	SkippedRows  []int  `json:"skippedRows" yaml:"skipped_rows"`
	Status       string `json:"status" yaml:"status"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewReport builds the Report for one Ingest call.
func NewReport(filename string, res Result, err error) Report {
	rep := Report{
		Filename:     filename,
		Schema:       res.Schema,
		RowsAccepted: res.Accepted,
		RowsInserted: res.Inserted,
		SkippedRows:  res.SkippedIndexes(),
		Status:       StatusOf(res.Schema, err),
	}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep
}

// Batch ingests jobs concurrently, at most e.Workers at a time, each file
// sequentially. A failing file never stops the others. Reports come back in
// input order.
func (e *Engine) Batch(ctx context.Context, jobs []FileJob) []Report {
	reports := make([]Report, len(jobs))

	workers := e.Workers
	if workers <= 0 {
		workers = 4
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			reports[i] = e.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (e *Engine) runJob(ctx context.Context, job FileJob) Report {
	if job.Schema == schema.Unknown {
		return NewReport(job.Filename, Result{Schema: schema.Unknown}, nil)
	}
	if job.Open == nil {
		return NewReport(job.Filename, Result{Schema: job.Schema}, fmt.Errorf("ingest: no content for %s", job.Filename))
	}
	rc, err := job.Open()
	if err != nil {
		return NewReport(job.Filename, Result{Schema: job.Schema}, fmt.Errorf("ingest: open %s: %w", job.Filename, err))
	}
	defer rc.Close()

	res, err := e.Ingest(ctx, rc, job.Filename, job.Schema)
	return NewReport(job.Filename, res, err)
}

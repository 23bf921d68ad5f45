// Package metrics is the process-wide metrics facade.
//
// Core code records through the package-level helpers (RecordFile,
// RecordRows, RecordDetect, RecordHTTP) and never imports a concrete
// backend. The entry point picks a backend (Datadog, Prometheus, or none)
// once at startup with SetBackend. Until then every call is a no-op.
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer samples.
type Flusher interface {
	Flush() error
}

// Metric names. Backends switch on these.
const (
	FilesTotal          = "csvload_files_total"
	RowsTotal           = "csvload_rows_total"
	FileDurationSeconds = "csvload_file_duration_seconds"
	DetectTotal         = "csvload_detect_total"
	HTTPRequestsTotal   = "csvload_http_requests_total"
	HTTPDurationSeconds = "csvload_http_request_duration_seconds"
)

// Row outcomes for RowsTotal.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b process-wide. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordFile records one ingested file.
func RecordFile(schema, status string, d time.Duration) {
	l := Labels{"schema": schema, "status": status}
	IncCounter(FilesTotal, 1, l)
	ObserveHistogram(FileDurationSeconds, d.Seconds(), l)
}

// RecordRows adds n rows with the given outcome. Zero is ignored.
func RecordRows(schema, outcome string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"schema": schema, "outcome": outcome})
}

// RecordDetect records one detection result.
func RecordDetect(schema string) {
	IncCounter(DetectTotal, 1, Labels{"schema": schema})
}

// RecordHTTP records one served request.
func RecordHTTP(route string, code int, d time.Duration) {
	l := Labels{"route": route, "code": strconv.Itoa(code)}
	IncCounter(HTTPRequestsTotal, 1, l)
	ObserveHistogram(HTTPDurationSeconds, d.Seconds(), l)
}

// Close flushes and closes the installed backend when it supports it.
func Close() error {
	b := current()
	if c, ok := b.(interface{ Close() error }); ok {
		return c.Close()
	}
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// ErrUnknownBackend is returned by config validation for unsupported
// backend names.
var ErrUnknownBackend = errors.New("metrics: unknown backend")

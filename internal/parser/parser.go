// Package parser selects and runs the tabular-file readers used by the
// detector and the ingestion engine.
//
// Readers live in subpackages (csv, htmltable, json) and register themselves from
// init() for the file extensions they handle, the same way storage backends
// register with the storage package.
package parser

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"csvload/internal/schema"
)

// Options controls delimited-text parsing.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune `mapstructure:"comma"`
	// TrimSpace trims leading/trailing whitespace from every value.
	TrimSpace bool `mapstructure:"trim_space"`
	// LazyQuotes relaxes quote handling (see encoding/csv).
	LazyQuotes bool `mapstructure:"lazy_quotes"`
}

// DefaultOptions returns comma-delimited, trimming options.
func DefaultOptions() Options {
	return Options{Comma: ',', TrimSpace: true}
}

// Format reads one kind of tabular file.
type Format interface {
	// ReadHeader returns the raw header cells from the first record only.
	// An empty input yields a nil header and no error.
	ReadHeader(r io.Reader) ([]string, error)

	// ReadRecords parses the whole input into RawRecords keyed by normalized
	// header. For delimited text the first record is the header.
	// Any malformed record fails the whole call with *ParseError.
	ReadRecords(ctx context.Context, r io.Reader) ([]schema.RawRecord, error)
}

// ParseError is a file-level parse failure.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type factory func(opt Options) Format

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// DefaultExt is the registration key used when a file has no registered
// extension.
const DefaultExt = ""

// Register binds a file extension (".csv", including the dot, lower case)
// to a Format constructor. Use DefaultExt to set the fallback.
//
// Panics on nil factory or duplicate extension.
func Register(ext string, f func(opt Options) Format) {
	mu.Lock()
	defer mu.Unlock()

	if f == nil {
		panic("parser: Register called with nil factory")
	}
	ext = strings.ToLower(ext)
	if _, exists := factories[ext]; exists {
		panic(fmt.Sprintf("parser: format already registered for ext=%q", ext))
	}
	factories[ext] = f
}

// ForFile returns the Format for name's extension, falling back to the
// DefaultExt registration.
func ForFile(name string, opt Options) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))

	mu.RLock()
	f, ok := factories[ext]
	if !ok {
		f, ok = factories[DefaultExt]
	}
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("parser: no format registered for %q", name)
	}
	return f(opt), nil
}

// Extensions lists registered extensions, sorted.
func Extensions() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for ext := range factories {
		if ext != DefaultExt {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

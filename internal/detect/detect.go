// Package detect classifies tabular files by their header row.
//
// Detection is an exact set match: the header, case-folded and sorted, must
// equal a registered schema's sorted field list. Schemas are tried in
// registry priority order and the first match wins. Anything else is
// schema.Unknown. Only the first record of a file is ever read.
package detect

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"csvload/internal/metrics"
	"csvload/internal/parser"
	"csvload/internal/schema"
)

// ValidationResult is the outcome of probing one uploaded file.
type ValidationResult struct {
	OriginalName string `json:"originalName" yaml:"original_name"`
	// Filename is the server-assigned name the file is staged under.
	Filename string `json:"filename" yaml:"filename"`
	Schema   string `json:"tableType" yaml:"schema"`
}

// Detector matches headers against a schema registry.
type Detector struct {
	reg    *schema.Registry
	sorted [][]string
	opt    parser.Options
	namer  func(original string) string
}

// Option customizes a Detector.
type Option func(*Detector)

// WithNamer overrides how server-side filenames are assigned.
func WithNamer(fn func(original string) string) Option {
	return func(d *Detector) { d.namer = fn }
}

// WithParserOptions sets the options used to read headers.
func WithParserOptions(opt parser.Options) Option {
	return func(d *Detector) { d.opt = opt }
}

// New builds a Detector over reg.
func New(reg *schema.Registry, opts ...Option) *Detector {
	d := &Detector{reg: reg, opt: parser.DefaultOptions(), namer: AssignName}
	for _, s := range reg.Schemas() {
		d.sorted = append(d.sorted, s.SortedFields())
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// AssignName returns a fresh server-side name that keeps the original
// extension, e.g. "3f2c...e1.csv".
func AssignName(original string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(original))
}

// Detect returns the name of the first schema whose field set equals the
// header set, or schema.Unknown. It is deterministic, independent of header
// order and letter case, and never fails.
func (d *Detector) Detect(header []string) string {
	if len(header) == 0 {
		return schema.Unknown
	}
	norm := schema.NormalizeHeaders(header)
	sort.Strings(norm)

	schemas := d.reg.Schemas()
	for i, fields := range d.sorted {
		if equalStrings(norm, fields) {
			return schemas[i].Name
		}
	}
	return schema.Unknown
}

// Probe reads the header of r and classifies it. originalName selects the
// file format by extension and is echoed back in the result.
//
// Errors:
//   - ctx already done.
//   - No parser registered for the file.
//   - The header line itself is malformed (*parser.ParseError).
//
// An empty file is not an error; it is schema.Unknown.
func (d *Detector) Probe(ctx context.Context, originalName string, r io.Reader) (ValidationResult, error) {
	res := ValidationResult{OriginalName: originalName, Schema: schema.Unknown}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	f, err := parser.ForFile(originalName, d.opt)
	if err != nil {
		return res, err
	}
	hdr, err := f.ReadHeader(r)
	if err != nil {
		return res, fmt.Errorf("detect %s: %w", originalName, err)
	}

	res.Schema = d.Detect(hdr)
	res.Filename = d.namer(originalName)
	metrics.RecordDetect(res.Schema)
	return res, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

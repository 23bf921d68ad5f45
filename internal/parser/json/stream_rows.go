// Package json reads exports shaped as JSON records: a root array of
// objects, an envelope object whose first array-of-objects field holds the
// records, a single object, or newline-delimited objects.
//
// Every object is a data row; the header is the key order of the first
// object.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"csvload/internal/parser"
	"csvload/internal/schema"
)

func init() {
	parser.Register(".json", New)
	parser.Register(".jsonl", New)
	parser.Register(".ndjson", New)
}

// ArrayJoinSeparator flattens arrays of strings into one value.
const ArrayJoinSeparator = ","

// Format implements parser.Format for JSON records.
type Format struct {
	opt parser.Options
}

func New(opt parser.Options) parser.Format { return &Format{opt: opt} }

// object keeps the source key order alongside the decoded values.
type object struct {
	keys []string
	vals map[string]any
}

var errStop = errors.New("stop")

// ReadHeader returns the keys of the first object.
func (f *Format) ReadHeader(r io.Reader) ([]string, error) {
	var header []string
	err := walk(context.Background(), r, func(obj object) error {
		header = obj.keys
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return header, nil
}

// ReadRecords decodes every object. Keys are normalized like CSV headers;
// when two keys normalize alike the first wins. Only string values (and
// arrays of strings) become fields: null, numbers, booleans and objects are
// left out, so the row fails validation like a short CSV row.
func (f *Format) ReadRecords(ctx context.Context, r io.Reader) ([]schema.RawRecord, error) {
	var out []schema.RawRecord
	err := walk(ctx, r, func(obj object) error {
		fields := make(map[string]string, len(obj.keys))
		seen := make(map[string]bool, len(obj.keys))
		for _, k := range obj.keys {
			name := schema.NormalizeHeader(k)
			if seen[name] {
				continue
			}
			seen[name] = true
			v, ok := textValue(obj.vals[k])
			if !ok {
				continue
			}
			if f.opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			fields[name] = v
		}
		out = append(out, schema.RawRecord{
			Index:  len(out),
			Line:   len(out) + 1,
			Fields: fields,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walk streams the records of r into emit, one object at a time.
func walk(ctx context.Context, r io.Reader, emit func(object) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	n := 0
	next := func(obj object) error {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(obj)
	}

	tok, err := dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return &parser.ParseError{Line: 1, Err: err}
	}

	switch tok {
	case json.Delim('['):
		if err := streamArray(dec, next, &n); err != nil {
			return err
		}
	case json.Delim('{'):
		streamed, single, err := streamEnvelopeOrSingle(dec, next, &n)
		if err != nil {
			return err
		}
		if !streamed {
			if err := next(single); err != nil {
				return err
			}
		}
	default:
		return &parser.ParseError{Line: 1, Err: fmt.Errorf("unsupported root token %v (want object or array)", tok)}
	}

	// Newline-delimited objects after the first value.
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &parser.ParseError{Line: n + 1, Err: err}
		}
		if tok != json.Delim('{') {
			return &parser.ParseError{Line: n + 1, Err: fmt.Errorf("trailing value is not an object (got %v)", tok)}
		}
		obj, err := readObjectBody(dec)
		if err != nil {
			return &parser.ParseError{Line: n + 1, Err: err}
		}
		if err := next(obj); err != nil {
			return err
		}
	}
}

// streamArray consumes array elements after '[' up to and including ']'.
// null elements are skipped.
func streamArray(dec *json.Decoder, emit func(object) error, n *int) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return &parser.ParseError{Line: *n + 1, Err: err}
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return &parser.ParseError{Line: *n + 1, Err: fmt.Errorf("array element is not an object (got %v)", tok)}
		}
		obj, err := readObjectBody(dec)
		if err != nil {
			return &parser.ParseError{Line: *n + 1, Err: err}
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return &parser.ParseError{Line: *n + 1, Err: fmt.Errorf("read array end: %w", err)}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object after '{'. The first field whose
// value is an array is streamed as the records and the remaining fields are
// skipped; with no such field the object itself is the one record.
func streamEnvelopeOrSingle(dec *json.Decoder, emit func(object) error, n *int) (bool, object, error) {
	single := object{vals: map[string]any{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, object{}, &parser.ParseError{Line: 1, Err: err}
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return false, object{}, &parser.ParseError{Line: 1, Err: err}
		}
		if isObjectArray(raw) {
			inner := json.NewDecoder(strings.NewReader(string(raw)))
			inner.UseNumber()
			if _, err := inner.Token(); err != nil {
				return false, object{}, &parser.ParseError{Line: 1, Err: err}
			}
			if err := streamArray(inner, emit, n); err != nil {
				return false, object{}, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, object{}, &parser.ParseError{Line: *n + 1, Err: err}
				}
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					return true, object{}, &parser.ParseError{Line: *n + 1, Err: err}
				}
			}
			if _, err := dec.Token(); err != nil {
				return true, object{}, &parser.ParseError{Line: *n + 1, Err: err}
			}
			return true, object{}, nil
		}

		var v any
		if err := decodeNumber(raw, &v); err != nil {
			return false, object{}, &parser.ParseError{Line: 1, Err: err}
		}
		if _, dup := single.vals[key]; !dup {
			single.keys = append(single.keys, key)
		}
		single.vals[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return false, object{}, &parser.ParseError{Line: 1, Err: fmt.Errorf("read object end: %w", err)}
	}
	return false, single, nil
}

// readObjectBody reads the fields of an object whose '{' was consumed.
func readObjectBody(dec *json.Decoder) (object, error) {
	obj := object{vals: map[string]any{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return object{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return object{}, fmt.Errorf("object key not a string (got %T)", keyTok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return object{}, err
		}
		if _, dup := obj.vals[key]; !dup {
			obj.keys = append(obj.keys, key)
		}
		obj.vals[key] = v
	}
	end, err := dec.Token()
	if err != nil {
		return object{}, err
	}
	if end != json.Delim('}') {
		return object{}, fmt.Errorf("expected '}', got %v", end)
	}
	return obj, nil
}

// isObjectArray reports whether raw is a non-empty array whose elements are
// all objects or null.
func isObjectArray(raw json.RawMessage) bool {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
		return false
	}
	objects := 0
	for _, e := range elems {
		switch t := strings.TrimSpace(string(e)); {
		case t == "null":
		case strings.HasPrefix(t, "{"):
			objects++
		default:
			return false
		}
	}
	return objects > 0
}

func decodeNumber(raw []byte, v *any) error {
	d := json.NewDecoder(strings.NewReader(string(raw)))
	d.UseNumber()
	return d.Decode(v)
}

// textValue returns the column text of a decoded JSON value. Arrays of
// strings are joined with ArrayJoinSeparator, skipping nulls.
func textValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		ss := make([]string, 0, len(t))
		for _, it := range t {
			if it == nil {
				continue
			}
			s, ok := it.(string)
			if !ok {
				return "", false
			}
			ss = append(ss, s)
		}
		return strings.Join(ss, ArrayJoinSeparator), true
	}
	return "", false
}

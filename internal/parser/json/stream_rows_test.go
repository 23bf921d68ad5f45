package json

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"csvload/internal/parser"
	"csvload/internal/schema"
)

func readAll(t *testing.T, input string) []schema.RawRecord {
	t.Helper()
	recs, err := New(parser.DefaultOptions()).ReadRecords(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	return recs
}

func TestReadHeader_KeepsKeyOrder(t *testing.T) {
	in := `[{"Order_ID":"o1","address":"a","date":"d","status":"s"},{"x":1}]`
	got, err := New(parser.DefaultOptions()).ReadHeader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	want := []string{"Order_ID", "address", "date", "status"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("header = %v, want %v", got, want)
	}
}

func TestReadHeader_Empty(t *testing.T) {
	got, err := New(parser.DefaultOptions()).ReadHeader(strings.NewReader(""))
	if err != nil || got != nil {
		t.Fatalf("ReadHeader(empty) = %v, %v; want nil, nil", got, err)
	}
}

func TestReadRecords_RootArrayAndTrailingJSONL(t *testing.T) {
	in := `[{"order_id":"o1","status":"new"}, null, {"order_id":"o2","status":"paid"}]
{"order_id":"o3","status":" shipped "}
`
	recs := readAll(t, in)
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, r := range recs {
		if r.Index != i || r.Line != i+1 {
			t.Fatalf("record %d: Index=%d Line=%d", i, r.Index, r.Line)
		}
	}
	if got := recs[2].Fields["status"]; got != "shipped" {
		t.Fatalf("trimmed status = %q", got)
	}
}

func TestReadRecords_Envelope(t *testing.T) {
	in := `{"meta":{"page":1},"items":[{"product_id":"p1","price":12.5,"tags":["a","b"]}],"next":null}`
	recs := readAll(t, in)
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	want := map[string]string{"product_id": "p1", "tags": "a,b"}
	if !reflect.DeepEqual(recs[0].Fields, want) {
		t.Fatalf("fields = %v, want %v", recs[0].Fields, want)
	}
}

func TestReadRecords_SingleObjectWithStringArray(t *testing.T) {
	recs := readAll(t, `{"order_id":"o1","notes":["x",null,"y"],"mixed":["x",1]}`)
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	want := map[string]string{"order_id": "o1", "notes": "x,y"}
	if !reflect.DeepEqual(recs[0].Fields, want) {
		t.Fatalf("fields = %v, want %v", recs[0].Fields, want)
	}
}

func TestReadRecords_NonStringValuesAreAbsent(t *testing.T) {
	in := `[{"order_id":"o1","address":"A","date":"d","status":null},
{"order_id":"o2","address":{"street":"x"},"date":20240101,"status":true},
{"order_id":"o3","address":"C","date":"d","status":"new"}]`
	recs := readAll(t, in)
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	tests := []struct {
		idx    int
		absent []string
	}{
		{0, []string{"status"}},
		{1, []string{"address", "date", "status"}},
	}
	for _, tc := range tests {
		for _, k := range tc.absent {
			if v, ok := recs[tc.idx].Fields[k]; ok {
				t.Fatalf("record %d: %s = %q, want absent", tc.idx, k, v)
			}
		}
	}

	orders := schema.OrdersSchema()
	for i, want := range []bool{false, false, true} {
		_, err := orders.Validate(recs[i])
		if (err == nil) != want {
			t.Fatalf("record %d: Validate err = %v", i, err)
		}
		var ve *schema.ValidationError
		if err != nil && (!errors.As(err, &ve) || ve.Reason != schema.ReasonMissingFields) {
			t.Fatalf("record %d: err = %v, want missing fields", i, err)
		}
	}
}

func TestReadRecords_NonStringFirstKeyStillWins(t *testing.T) {
	recs := readAll(t, `[{"Status":1,"status":"second"}]`)
	if v, ok := recs[0].Fields["status"]; ok {
		t.Fatalf("status = %q, want absent", v)
	}
}

func TestReadRecords_NormalizesKeysFirstWins(t *testing.T) {
	recs := readAll(t, `[{"Status":"first","status ":"second"}]`)
	if got := recs[0].Fields["status"]; got != "first" {
		t.Fatalf("status = %q, want first", got)
	}
}

func TestReadRecords_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"scalar_root", `42`},
		{"non_object_element", `[{"a":"1"}, 7]`},
		{"truncated", `[{"a":"1"`},
		{"trailing_scalar", `{"a":"1"} "x"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(parser.DefaultOptions()).ReadRecords(context.Background(), strings.NewReader(tc.in))
			var pe *parser.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *parser.ParseError", err)
			}
		})
	}
}

func TestReadRecords_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(parser.DefaultOptions()).ReadRecords(ctx, strings.NewReader(`[{"a":"1"}]`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRegisteredExtensions(t *testing.T) {
	for _, name := range []string{"x.json", "x.JSONL", "x.ndjson"} {
		f, err := parser.ForFile(name, parser.DefaultOptions())
		if err != nil {
			t.Fatalf("ForFile(%q): %v", name, err)
		}
		if _, ok := f.(*Format); !ok {
			t.Fatalf("ForFile(%q) = %T", name, f)
		}
	}
}

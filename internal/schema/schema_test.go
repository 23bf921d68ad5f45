package schema

import (
	"errors"
	"reflect"
	"testing"
)

func raw(idx int, kv ...string) RawRecord {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return RawRecord{Index: idx, Line: idx + 2, Fields: m}
}

func TestDefaultRegistry_PriorityOrder(t *testing.T) {
	t.Parallel()
	got := Default().Names()
	want := []string{Orders, Products}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestValidate_Order(t *testing.T) {
	t.Parallel()
	s, _ := Default().Lookup(Orders)
	rec, err := s.Validate(raw(0, "order_id", "1", "address", "A", "date", "2024-01-01", "status", "new"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	o, ok := rec.(Order)
	if !ok {
		t.Fatalf("Validate returned %T, want Order", rec)
	}
	want := Order{OrderID: "1", Address: "A", Date: "2024-01-01", Status: "new"}
	if o != want {
		t.Fatalf("order = %+v, want %+v", o, want)
	}
	if o.Key() != "1" || o.Schema() != Orders {
		t.Fatalf("Key/Schema = %q/%q", o.Key(), o.Schema())
	}
}

func TestValidate_Product(t *testing.T) {
	t.Parallel()
	s, _ := Default().Lookup(Products)
	rec, err := s.Validate(raw(3,
		"product_id", "p1", "order_id", "o-missing", "category", "c",
		"name", "n", "description", "", "price", "9.99"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p := rec.(Product)
	if p.OrderID != "o-missing" || p.Description != "" {
		t.Fatalf("product = %+v", p)
	}
	wantVals := []string{"p1", "o-missing", "c", "n", "", "9.99"}
	if !reflect.DeepEqual(p.Values(), wantVals) {
		t.Fatalf("Values() = %v, want %v", p.Values(), wantVals)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	t.Parallel()
	s, _ := Default().Lookup(Orders)
	_, err := s.Validate(raw(1, "order_id", "2", "address", "B"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if ve.Row != 1 || ve.Reason != ReasonMissingFields {
		t.Fatalf("ValidationError = %+v", ve)
	}
	if !reflect.DeepEqual(ve.Missing, []string{"date", "status"}) {
		t.Fatalf("Missing = %v", ve.Missing)
	}
}

// Empty primary keys are rejected even though the key column is present.
// Only the key is held to this; other fields may be empty strings.
func TestValidate_RejectsEmptyPrimaryKey(t *testing.T) {
	t.Parallel()
	s, _ := Default().Lookup(Orders)
	_, err := s.Validate(raw(0, "order_id", "", "address", "A", "date", "d", "status", "s"))
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Reason != ReasonEmptyKey {
		t.Fatalf("err = %v, want empty key ValidationError", err)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []RecordSchema
	}{
		{"empty_name", []RecordSchema{{Fields: []string{"a"}, Key: "a"}}},
		{"reserved_name", []RecordSchema{{Name: Unknown, Fields: []string{"a"}, Key: "a"}}},
		{"no_fields", []RecordSchema{{Name: "x", Key: "a"}}},
		{"key_not_field", []RecordSchema{{Name: "x", Fields: []string{"a"}, Key: "b"}}},
		{"dup_field", []RecordSchema{{Name: "x", Fields: []string{"a", "a"}, Key: "a"}}},
		{"upper_field", []RecordSchema{{Name: "x", Fields: []string{"A"}, Key: "A"}}},
		{"dup_schema", []RecordSchema{
			{Name: "x", Fields: []string{"a"}, Key: "a"},
			{Name: "x", Fields: []string{"b"}, Key: "b"},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.in...); err == nil {
				t.Fatalf("NewRegistry(%s) = nil error, want error", tc.name)
			}
		})
	}
}

func TestGenericRecord(t *testing.T) {
	t.Parallel()
	r, err := NewRegistry(RecordSchema{Name: "widgets", Fields: []string{"id", "color"}, Key: "id"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	s, ok := r.Lookup("widgets")
	if !ok {
		t.Fatalf("Lookup(widgets) missing")
	}
	rec, err := s.Validate(raw(0, "id", "w1", "color", "red", "extra", "ignored"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.Key() != "w1" || !reflect.DeepEqual(rec.Values(), []string{"w1", "red"}) {
		t.Fatalf("generic = %+v", rec)
	}
}

func TestFromValues_LengthMismatch(t *testing.T) {
	t.Parallel()
	if _, err := OrdersSchema().FromValues([]string{"1"}); err == nil {
		t.Fatalf("FromValues(short) = nil error")
	}
}

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"order_id", "order_id"},
		{"  Order_ID ", "order_id"},
		{"\uFEFFORDER_ID", "order_id"},
		{"STRASSE", "strasse"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeHeader(tc.in); got != tc.want {
			t.Fatalf("NormalizeHeader(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"csvload/internal/schema"
)

type fakeStore struct{ Store }

func TestRegisterAndNew(t *testing.T) {
	Register("fake-test", func(ctx context.Context, cfg Config) (Store, error) {
		if cfg.DSN == "fail" {
			return nil, errors.New("boom")
		}
		return fakeStore{}, nil
	})

	if _, err := New(context.Background(), Config{Kind: "fake-test"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(context.Background(), Config{Kind: "fake-test", DSN: "fail"}); err == nil {
		t.Fatalf("New with failing factory returned nil error")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New with empty kind returned nil error")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("New with unknown kind returned nil error")
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() = %v, missing fake-test", Kinds())
	}
}

func TestRegister_Panics(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Store, error) { return nil, nil }
	Register("dup-test", f)

	tests := []struct {
		name string
		kind string
		f    func(ctx context.Context, cfg Config) (Store, error)
	}{
		{"empty_kind", "", f},
		{"nil_factory", "nil-test", nil},
		{"duplicate", "dup-test", f},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("Register(%q) did not panic", tc.kind)
				}
			}()
			Register(tc.kind, tc.f)
		})
	}
}

func TestSpecFor(t *testing.T) {
	t.Parallel()
	got := SpecFor(schema.ProductsSchema())
	want := TableSpec{
		Name:    "products",
		Key:     "product_id",
		Columns: []string{"product_id", "order_id", "category", "name", "description", "price"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SpecFor(products) = %+v, want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !reflect.DeepEqual(got.NonKeyColumns(), want.Columns[1:]) {
		t.Fatalf("NonKeyColumns = %v", got.NonKeyColumns())
	}
}

func TestTableSpecValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec TableSpec
	}{
		{"injection", TableSpec{Name: "orders; drop", Key: "a", Columns: []string{"a"}}},
		{"upper", TableSpec{Name: "Orders", Key: "a", Columns: []string{"a"}}},
		{"no_columns", TableSpec{Name: "t", Key: "a"}},
		{"bad_column", TableSpec{Name: "t", Key: "a", Columns: []string{"a", "b c"}}},
		{"key_missing", TableSpec{Name: "t", Key: "z", Columns: []string{"a"}}},
	}
	for _, tc := range tests {
		if err := tc.spec.Validate(); !errors.Is(err, ErrInvalidTable) {
			t.Fatalf("%s: Validate() = %v, want ErrInvalidTable", tc.name, err)
		}
	}
}

func TestParseSort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Sort
		wantErr bool
	}{
		{"", SortNone, false},
		{"asc", SortAsc, false},
		{"DESC", SortDesc, false},
		{"sideways", SortNone, true},
	}
	for _, tc := range tests {
		got, err := ParseSort(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseSort(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"a", "a"},
		{[]byte("b"), "b"},
		{int64(7), "7"},
		{int32(8), "8"},
		{3.5, "3.5"},
	}
	for _, tc := range tests {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNonKeyValues(t *testing.T) {
	t.Parallel()
	spec := SpecFor(schema.OrdersSchema())
	got := spec.NonKeyValues([]string{"1", "a", "d", "s"})
	if !reflect.DeepEqual(got, []string{"a", "d", "s"}) {
		t.Fatalf("NonKeyValues = %v", got)
	}
	if err := spec.CheckValues([]string{"1"}); err == nil {
		t.Fatalf("CheckValues(short) = nil")
	}
}

// Package schema defines the record shapes the loader understands.
//
// A RecordSchema names a set of required string fields plus a primary key.
// The registry is fixed at process start and is consulted in priority order
// by the detector, so the order schemas are registered in matters.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Unknown is the sentinel schema name for headers that match no registered
// schema. It is never persisted.
const Unknown = "unknown"

// Names of the built-in schemas.
const (
	Orders   = "orders"
	Products = "products"
)

// RecordSchema describes one record type.
//
// Fields are required and ordered; the order is the column order used by
// storage backends. Key must be one of Fields.
type RecordSchema struct {
	Name   string
	Fields []string
	Key    string

	// build turns field values (in Fields order) into a typed variant.
	// Schemas built outside this package leave it nil and get Generic.
	build func(values []string) TypedRecord
}

// SortedFields returns a sorted copy of Fields, used for set comparison.
func (s RecordSchema) SortedFields() []string {
	out := append([]string(nil), s.Fields...)
	sort.Strings(out)
	return out
}

// KeyIndex returns the position of the primary key inside Fields.
func (s RecordSchema) KeyIndex() int {
	for i, f := range s.Fields {
		if f == s.Key {
			return i
		}
	}
	return -1
}

// Validate checks that every required field is present in raw and that the
// primary key is non-empty, then builds the typed record.
//
// Validate is pure: it never touches storage and never mutates raw.
func (s RecordSchema) Validate(raw RawRecord) (TypedRecord, error) {
	values := make([]string, len(s.Fields))
	var missing []string
	for i, f := range s.Fields {
		v, ok := raw.Fields[f]
		if !ok {
			missing = append(missing, f)
			continue
		}
		values[i] = v
	}
	if len(missing) > 0 {
		return nil, &ValidationError{
			Schema:  s.Name,
			Row:     raw.Index,
			Missing: missing,
			Reason:  ReasonMissingFields,
		}
	}
	if values[s.KeyIndex()] == "" {
		return nil, &ValidationError{
			Schema: s.Name,
			Row:    raw.Index,
			Reason: ReasonEmptyKey,
		}
	}
	return s.FromValues(values)
}

// FromValues builds a typed record from values in Fields order. It does not
// apply the required-field rules; storage uses it to rehydrate rows.
func (s RecordSchema) FromValues(values []string) (TypedRecord, error) {
	if len(values) != len(s.Fields) {
		return nil, fmt.Errorf("schema %s: got %d values, want %d", s.Name, len(values), len(s.Fields))
	}
	if s.build != nil {
		return s.build(values), nil
	}
	return Generic{
		SchemaName: s.Name,
		KeyValue:   values[s.KeyIndex()],
		Fields:     append([]string(nil), s.Fields...),
		Vals:       append([]string(nil), values...),
	}, nil
}

func (s RecordSchema) check() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return errors.New("schema: empty name")
	case s.Name == Unknown:
		return fmt.Errorf("schema: name %q is reserved", Unknown)
	case len(s.Fields) == 0:
		return fmt.Errorf("schema %s: no fields", s.Name)
	case s.KeyIndex() < 0:
		return fmt.Errorf("schema %s: key %q is not a field", s.Name, s.Key)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f == "" {
			return fmt.Errorf("schema %s: empty field name", s.Name)
		}
		if f != NormalizeHeader(f) {
			return fmt.Errorf("schema %s: field %q is not in canonical form", s.Name, f)
		}
		if seen[f] {
			return fmt.Errorf("schema %s: duplicate field %q", s.Name, f)
		}
		seen[f] = true
	}
	return nil
}

// OrdersSchema returns the built-in "orders" schema.
func OrdersSchema() RecordSchema {
	return RecordSchema{
		Name:   Orders,
		Fields: []string{"order_id", "address", "date", "status"},
		Key:    "order_id",
		build: func(v []string) TypedRecord {
			return Order{OrderID: v[0], Address: v[1], Date: v[2], Status: v[3]}
		},
	}
}

// ProductsSchema returns the built-in "products" schema.
func ProductsSchema() RecordSchema {
	return RecordSchema{
		Name:   Products,
		Fields: []string{"product_id", "order_id", "category", "name", "description", "price"},
		Key:    "product_id",
		build: func(v []string) TypedRecord {
			return Product{
				ProductID:   v[0],
				OrderID:     v[1],
				Category:    v[2],
				Name:        v[3],
				Description: v[4],
				Price:       v[5],
			}
		},
	}
}

// Registry is an immutable, ordered set of schemas.
type Registry struct {
	schemas []RecordSchema
	byName  map[string]int
}

// NewRegistry builds a registry. Registration order is detection priority.
//
// Errors:
//   - Any schema with an empty name, no fields, a key outside its fields,
//     duplicate or non-canonical field names.
//   - Two schemas with the same name.
func NewRegistry(schemas ...RecordSchema) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(schemas))}
	for _, s := range schemas {
		if err := s.check(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("schema: %q registered twice", s.Name)
		}
		s.Fields = append([]string(nil), s.Fields...)
		r.byName[s.Name] = len(r.schemas)
		r.schemas = append(r.schemas, s)
	}
	return r, nil
}

var defaultRegistry = mustRegistry(OrdersSchema(), ProductsSchema())

func mustRegistry(schemas ...RecordSchema) *Registry {
	r, err := NewRegistry(schemas...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the built-in registry: orders, then products.
func Default() *Registry { return defaultRegistry }

// Lookup returns the schema registered under name.
func (r *Registry) Lookup(name string) (RecordSchema, bool) {
	i, ok := r.byName[name]
	if !ok {
		return RecordSchema{}, false
	}
	return r.schemas[i], true
}

// Schemas returns the schemas in priority order.
func (r *Registry) Schemas() []RecordSchema {
	return append([]RecordSchema(nil), r.schemas...)
}

// Names returns the schema names in priority order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.schemas))
	for i, s := range r.schemas {
		out[i] = s.Name
	}
	return out
}

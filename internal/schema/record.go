package schema

import (
	"fmt"
	"strings"
)

// RawRecord is one parsed data row keyed by normalized header name.
type RawRecord struct {
	// Index is the 0-based ordinal of the row among data rows (header excluded).
	Index int
	// Line is the 1-based line in the source where the row starts.
	Line   int
	Fields map[string]string
}

// TypedRecord is a validated record. Concrete variants are Order, Product
// and Generic.
type TypedRecord interface {
	Schema() string
	Key() string
	// Values returns field values in the schema's Fields order.
	Values() []string
}

// Order is a validated "orders" row.
type Order struct {
	OrderID string `json:"order_id" yaml:"order_id"`
	Address string `json:"address" yaml:"address"`
	Date    string `json:"date" yaml:"date"`
	Status  string `json:"status" yaml:"status"`
}

func (Order) Schema() string { return Orders }
func (o Order) Key() string  { return o.OrderID }
func (o Order) Values() []string {
	return []string{o.OrderID, o.Address, o.Date, o.Status}
}

// Product is a validated "products" row. OrderID is not checked against
// orders; orphan products are allowed.
type Product struct {
	ProductID   string `json:"product_id" yaml:"product_id"`
	OrderID     string `json:"order_id" yaml:"order_id"`
	Category    string `json:"category" yaml:"category"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Price       string `json:"price" yaml:"price"`
}

func (Product) Schema() string { return Products }
func (p Product) Key() string  { return p.ProductID }
func (p Product) Values() []string {
	return []string{p.ProductID, p.OrderID, p.Category, p.Name, p.Description, p.Price}
}

// Generic is the variant for schemas passed to NewRegistry without a
// dedicated type. It is how a deployment adds an export beyond orders and
// products: the detector, engine and every storage backend work from
// Fields and Key alone. The built-in schemas never produce it.
type Generic struct {
	SchemaName string
	KeyValue   string
	Fields     []string
	Vals       []string
}

func (g Generic) Schema() string   { return g.SchemaName }
func (g Generic) Key() string      { return g.KeyValue }
func (g Generic) Values() []string { return append([]string(nil), g.Vals...) }

// Validation failure reasons.
const (
	ReasonMissingFields = "missing required fields"
	ReasonEmptyKey      = "empty primary key"
)

// ValidationError reports a row that does not satisfy its schema. It is
// recovered per row by the ingestion engine and never aborts a file.
type ValidationError struct {
	Schema  string
	Row     int
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema %s: row %d: %s: %s", e.Schema, e.Row, e.Reason, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema %s: row %d: %s", e.Schema, e.Row, e.Reason)
}

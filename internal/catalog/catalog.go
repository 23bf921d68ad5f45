// Package catalog is the record-level view of the two loaded tables: CRUD on
// orders and products, dropping a table, and orders joined with their
// products.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"csvload/internal/schema"
	"csvload/internal/storage"
)

// ErrInvalidTable is returned by DropTable for any name other than orders or
// products.
var ErrInvalidTable = errors.New("catalog: invalid table name")

// ErrInvalidRecord is returned when a record to create has an empty key.
var ErrInvalidRecord = errors.New("catalog: invalid record")

// OrderWithProducts is one order and every product that references it.
type OrderWithProducts struct {
	schema.Order
	Products []schema.Product `json:"products" yaml:"products"`
}

// Catalog reads and writes orders and products through a Store.
type Catalog struct {
	store    storage.Store
	orders   storage.TableSpec
	products storage.TableSpec
}

func New(store storage.Store) *Catalog {
	return &Catalog{
		store:    store,
		orders:   storage.SpecFor(schema.OrdersSchema()),
		products: storage.SpecFor(schema.ProductsSchema()),
	}
}

// Ensure creates both tables if they are missing.
func (c *Catalog) Ensure(ctx context.Context) error {
	for _, t := range []storage.TableSpec{c.orders, c.products} {
		if err := c.store.EnsureTable(ctx, t); err != nil {
			return fmt.Errorf("catalog: ensure %s: %w", t.Name, err)
		}
	}
	return nil
}

// ListOrders returns orders bounded and sorted by order_id per opt.
func (c *Catalog) ListOrders(ctx context.Context, opt storage.ListOptions) ([]schema.Order, error) {
	rows, err := c.list(ctx, c.orders, opt)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, orderOf(r))
	}
	return out, nil
}

func (c *Catalog) GetOrder(ctx context.Context, id string) (schema.Order, error) {
	row, err := c.get(ctx, c.orders, id)
	if err != nil {
		return schema.Order{}, err
	}
	return orderOf(row), nil
}

// CreateOrder inserts o. storage.ErrConflict if order_id exists.
func (c *Catalog) CreateOrder(ctx context.Context, o schema.Order) error {
	if o.OrderID == "" {
		return fmt.Errorf("%w: empty order_id", ErrInvalidRecord)
	}
	return c.insert(ctx, c.orders, o.Values())
}

// UpdateOrder replaces address, date and status of order id.
func (c *Catalog) UpdateOrder(ctx context.Context, id string, o schema.Order) error {
	o.OrderID = id
	return c.update(ctx, c.orders, id, o.Values())
}

// ListProducts returns products bounded and sorted by product_id per opt.
func (c *Catalog) ListProducts(ctx context.Context, opt storage.ListOptions) ([]schema.Product, error) {
	rows, err := c.list(ctx, c.products, opt)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, productOf(r))
	}
	return out, nil
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (schema.Product, error) {
	row, err := c.get(ctx, c.products, id)
	if err != nil {
		return schema.Product{}, err
	}
	return productOf(row), nil
}

// CreateProduct inserts p. storage.ErrConflict if product_id exists.
func (c *Catalog) CreateProduct(ctx context.Context, p schema.Product) error {
	if p.ProductID == "" {
		return fmt.Errorf("%w: empty product_id", ErrInvalidRecord)
	}
	return c.insert(ctx, c.products, p.Values())
}

// UpdateProduct replaces every non-key column of product id.
func (c *Catalog) UpdateProduct(ctx context.Context, id string, p schema.Product) error {
	p.ProductID = id
	return c.update(ctx, c.products, id, p.Values())
}

func (c *Catalog) DeleteProduct(ctx context.Context, id string) error {
	if err := c.store.EnsureTable(ctx, c.products); err != nil {
		return err
	}
	return c.store.Delete(ctx, c.products, id)
}

// DropTable drops orders or products.
func (c *Catalog) DropTable(ctx context.Context, name string) error {
	switch name {
	case schema.Orders:
		return c.store.DropTable(ctx, c.orders)
	case schema.Products:
		return c.store.DropTable(ctx, c.products)
	}
	return fmt.Errorf("%w: %q", ErrInvalidTable, name)
}

// Join returns every order ascending by order_id with its products, also
// ascending. An order without products has an empty, non-nil list. Products
// whose order_id matches no order are left out.
func (c *Catalog) Join(ctx context.Context) ([]OrderWithProducts, error) {
	orders, err := c.ListOrders(ctx, storage.ListOptions{Sort: storage.SortAsc})
	if err != nil {
		return nil, err
	}
	products, err := c.ListProducts(ctx, storage.ListOptions{Sort: storage.SortAsc})
	if err != nil {
		return nil, err
	}

	byOrder := make(map[string][]schema.Product, len(orders))
	for _, p := range products {
		byOrder[p.OrderID] = append(byOrder[p.OrderID], p)
	}
	out := make([]OrderWithProducts, 0, len(orders))
	for _, o := range orders {
		ps := byOrder[o.OrderID]
		if ps == nil {
			ps = []schema.Product{}
		}
		out = append(out, OrderWithProducts{Order: o, Products: ps})
	}
	return out, nil
}

func (c *Catalog) list(ctx context.Context, t storage.TableSpec, opt storage.ListOptions) ([][]string, error) {
	if err := c.store.EnsureTable(ctx, t); err != nil {
		return nil, err
	}
	return c.store.List(ctx, t, opt)
}

func (c *Catalog) get(ctx context.Context, t storage.TableSpec, key string) ([]string, error) {
	if err := c.store.EnsureTable(ctx, t); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, t, key)
}

func (c *Catalog) insert(ctx context.Context, t storage.TableSpec, values []string) error {
	if err := c.store.EnsureTable(ctx, t); err != nil {
		return err
	}
	return c.store.Insert(ctx, t, values)
}

func (c *Catalog) update(ctx context.Context, t storage.TableSpec, key string, values []string) error {
	if err := c.store.EnsureTable(ctx, t); err != nil {
		return err
	}
	return c.store.Update(ctx, t, key, values)
}

func orderOf(r []string) schema.Order {
	r = pad(r, 4)
	return schema.Order{OrderID: r[0], Address: r[1], Date: r[2], Status: r[3]}
}

func productOf(r []string) schema.Product {
	r = pad(r, 6)
	return schema.Product{ProductID: r[0], OrderID: r[1], Category: r[2], Name: r[3], Description: r[4], Price: r[5]}
}

func pad(r []string, n int) []string {
	for len(r) < n {
		r = append(r, "")
	}
	return r
}

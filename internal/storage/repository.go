package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string `mapstructure:"kind"`
	DSN  string `mapstructure:"dsn"`
}

// Sentinel errors shared by every backend.
var (
	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned by Insert when the primary key already exists.
	ErrConflict = errors.New("storage: duplicate key")
	// ErrInvalidTable is returned for a TableSpec that fails Validate.
	ErrInvalidTable = errors.New("storage: invalid table")
)

// Sort orders List results by primary key.
type Sort string

const (
	SortNone Sort = ""
	SortAsc  Sort = "asc"
	SortDesc Sort = "desc"
)

// ParseSort accepts "", "asc" and "desc" (any case).
func ParseSort(s string) (Sort, error) {
	switch Sort(lower(s)) {
	case SortNone:
		return SortNone, nil
	case SortAsc:
		return SortAsc, nil
	case SortDesc:
		return SortDesc, nil
	}
	return SortNone, fmt.Errorf("storage: invalid sort %q (want asc or desc)", s)
}

// ListOptions bounds and orders a List call.
type ListOptions struct {
	// Limit caps the number of rows; <= 0 means no limit.
	Limit int
	Sort  Sort
}

// Store is the backend-agnostic persistence interface for text-valued,
// single-key tables.
//
// Every values slice is in TableSpec.Columns order. Each backend implements
// InsertIgnore as one atomic conditional statement (ON CONFLICT DO NOTHING,
// INSERT OR IGNORE, ...), so concurrent writers with overlapping keys need
// no extra locking and the first committed row for a key wins.
type Store interface {
	// Close releases backend resources. Call once.
	Close()

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// EnsureTable creates the table if it does not exist. Idempotent.
	EnsureTable(ctx context.Context, t TableSpec) error

	// DropTable drops the table if it exists.
	DropTable(ctx context.Context, t TableSpec) error

	// InsertIgnore inserts the row unless its key already exists.
	// inserted reports whether a new row was written.
	InsertIgnore(ctx context.Context, t TableSpec, values []string) (inserted bool, err error)

	// Insert inserts the row; ErrConflict if the key exists.
	Insert(ctx context.Context, t TableSpec, values []string) error

	// Update replaces every non-key column of the row with key.
	// values carries all columns; its key position is ignored.
	Update(ctx context.Context, t TableSpec, key string, values []string) error

	// Delete removes the row with key; ErrNotFound if absent.
	Delete(ctx context.Context, t TableSpec, key string) error

	// Get returns the row with key; ErrNotFound if absent.
	Get(ctx context.Context, t TableSpec, key string) ([]string, error)

	// List returns rows ordered by key per opt.
	List(ctx context.Context, t TableSpec, opt ListOptions) ([][]string, error)
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f func(ctx context.Context, cfg Config) (Store, error)) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Kind, err)
	}
	return s, nil
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package memory is an in-process storage.Store for tests and demos. Data
// does not survive Close.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"csvload/internal/storage"
)

type table struct {
	spec storage.TableSpec
	rows map[string][]string
}

// Store keeps every table in a map guarded by one mutex.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

func init() {
	storage.Register("memory", func(context.Context, storage.Config) (storage.Store, error) {
		return New(), nil
	})
}

func New() *Store {
	return &Store{tables: map[string]*table{}}
}

func (s *Store) Close()                     {}
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) EnsureTable(_ context.Context, t storage.TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[t.Name]; !ok {
		s.tables[t.Name] = &table{spec: t, rows: map[string][]string{}}
	}
	return nil
}

func (s *Store) DropTable(_ context.Context, t storage.TableSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.tables, t.Name)
	s.mu.Unlock()
	return nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(name string) (*table, error) {
	tb, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("memory: no such table: %s", name)
	}
	return tb, nil
}

func (s *Store) InsertIgnore(_ context.Context, t storage.TableSpec, values []string) (bool, error) {
	if err := t.CheckValues(values); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tb, err := s.lookup(t.Name)
	if err != nil {
		return false, err
	}
	key := values[t.KeyIndex()]
	if _, exists := tb.rows[key]; exists {
		return false, nil
	}
	tb.rows[key] = append([]string(nil), values...)
	return true, nil
}

func (s *Store) Insert(ctx context.Context, t storage.TableSpec, values []string) error {
	inserted, err := s.InsertIgnore(ctx, t, values)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%s %q: %w", t.Name, values[t.KeyIndex()], storage.ErrConflict)
	}
	return nil
}

func (s *Store) Update(_ context.Context, t storage.TableSpec, key string, values []string) error {
	if err := t.CheckValues(values); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tb, err := s.lookup(t.Name)
	if err != nil {
		return err
	}
	if _, ok := tb.rows[key]; !ok {
		return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	row := append([]string(nil), values...)
	row[t.KeyIndex()] = key
	tb.rows[key] = row
	return nil
}

func (s *Store) Delete(_ context.Context, t storage.TableSpec, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tb, err := s.lookup(t.Name)
	if err != nil {
		return err
	}
	if _, ok := tb.rows[key]; !ok {
		return fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	delete(tb.rows, key)
	return nil
}

func (s *Store) Get(_ context.Context, t storage.TableSpec, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tb, err := s.lookup(t.Name)
	if err != nil {
		return nil, err
	}
	row, ok := tb.rows[key]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", t.Name, key, storage.ErrNotFound)
	}
	return append([]string(nil), row...), nil
}

// List without a sort still returns rows in key order so results are stable.
func (s *Store) List(_ context.Context, t storage.TableSpec, opt storage.ListOptions) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tb, err := s.lookup(t.Name)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(tb.rows))
	for k := range tb.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if opt.Sort == storage.SortDesc {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}
	if opt.Limit > 0 && len(keys) > opt.Limit {
		keys = keys[:opt.Limit]
	}
	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, append([]string(nil), tb.rows[k]...))
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)

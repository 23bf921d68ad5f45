package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"csvload/internal/schema"
	"csvload/internal/storage"
)

func openTemp(t *testing.T) storage.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New(sqlite): %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

var orders = storage.SpecFor(schema.OrdersSchema())

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()
	got := buildCreateSQL(orders)
	want := `CREATE TABLE IF NOT EXISTS "orders" ("order_id" TEXT PRIMARY KEY NOT NULL, "address" TEXT, "date" TEXT, "status" TEXT)`
	if got != want {
		t.Fatalf("buildCreateSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildInsertIgnoreSQL(t *testing.T) {
	t.Parallel()
	got := buildInsertIgnoreSQL(orders)
	want := `INSERT OR IGNORE INTO "orders" ("order_id", "address", "date", "status") VALUES (?, ?, ?, ?)`
	if got != want {
		t.Fatalf("buildInsertIgnoreSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestWithBusyTimeout(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"a.db", "a.db?_pragma=busy_timeout(5000)"},
		{"file:a.db?mode=rwc", "file:a.db?mode=rwc&_pragma=busy_timeout(5000)"},
		{"a.db?_pragma=busy_timeout(10)", "a.db?_pragma=busy_timeout(10)"},
	}
	for _, tc := range tests {
		if got := withBusyTimeout(tc.in); got != tc.want {
			t.Fatalf("withBusyTimeout(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInsertIgnore_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.EnsureTable(ctx, orders); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := s.EnsureTable(ctx, orders); err != nil {
		t.Fatalf("EnsureTable (again): %v", err)
	}

	ins, err := s.InsertIgnore(ctx, orders, []string{"1", "first", "d", "new"})
	if err != nil || !ins {
		t.Fatalf("InsertIgnore(first) = %v, %v", ins, err)
	}
	ins, err = s.InsertIgnore(ctx, orders, []string{"1", "second", "d", "new"})
	if err != nil || ins {
		t.Fatalf("InsertIgnore(dup) = %v, %v; want false, nil", ins, err)
	}

	got, err := s.Get(ctx, orders, "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[1] != "first" {
		t.Fatalf("address = %q, want first", got[1])
	}
}

func TestInsertIgnore_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.EnsureTable(ctx, orders); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertIgnore(ctx, orders, []string{"k", "a", "d", "s"})
			if err != nil {
				t.Errorf("InsertIgnore: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Fatalf("inserted = %d, want exactly 1", inserted)
	}
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.EnsureTable(ctx, orders); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	for _, id := range []string{"2", "1", "3"} {
		if err := s.Insert(ctx, orders, []string{id, "addr" + id, "d", "new"}); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}
	if err := s.Insert(ctx, orders, []string{"1", "x", "d", "new"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Insert(dup) = %v, want ErrConflict", err)
	}

	rows, err := s.List(ctx, orders, storage.ListOptions{Sort: storage.SortDesc, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "3" || rows[1][0] != "2" {
		t.Fatalf("List(desc, 2) = %v", rows)
	}
	rows, _ = s.List(ctx, orders, storage.ListOptions{Sort: storage.SortAsc})
	var keys []string
	for _, r := range rows {
		keys = append(keys, r[0])
	}
	if !reflect.DeepEqual(keys, []string{"1", "2", "3"}) {
		t.Fatalf("List(asc) keys = %v", keys)
	}

	if err := s.Update(ctx, orders, "2", []string{"ignored", "new addr", "d2", "shipped"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get(ctx, orders, "2")
	if !reflect.DeepEqual(got, []string{"2", "new addr", "d2", "shipped"}) {
		t.Fatalf("after Update: %v", got)
	}
	if err := s.Update(ctx, orders, "nope", []string{"", "a", "b", "c"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Update(missing) = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, orders, "3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, orders, "3"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(deleted) = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, orders, "3"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Delete(again) = %v, want ErrNotFound", err)
	}
}

func TestDropTable(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.EnsureTable(ctx, orders); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := s.DropTable(ctx, orders); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if err := s.DropTable(ctx, orders); err != nil {
		t.Fatalf("DropTable (again): %v", err)
	}
	if _, err := s.List(ctx, orders, storage.ListOptions{}); err == nil || !strings.Contains(err.Error(), "no such table") {
		t.Fatalf("List after drop = %v, want no such table", err)
	}
}

func TestEnsureTable_RejectsBadSpec(t *testing.T) {
	s := openTemp(t)
	bad := storage.TableSpec{Name: "x; drop table orders", Key: "a", Columns: []string{"a"}}
	if err := s.EnsureTable(context.Background(), bad); !errors.Is(err, storage.ErrInvalidTable) {
		t.Fatalf("EnsureTable(bad) = %v, want ErrInvalidTable", err)
	}
}

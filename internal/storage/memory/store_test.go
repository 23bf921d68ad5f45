package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvload/internal/schema"
	"csvload/internal/storage"
)

var orders = storage.SpecFor(schema.OrdersSchema())

func TestInsertIgnore_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureTable(ctx, orders))

	ok, err := s.InsertIgnore(ctx, orders, []string{"o1", "a", "d", "new"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertIgnore(ctx, orders, []string{"o1", "b", "d", "shipped"})
	require.NoError(t, err)
	assert.False(t, ok)

	row, err := s.Get(ctx, orders, "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "a", "d", "new"}, row)
}

func TestInsertIgnore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureTable(ctx, orders))

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertIgnore(ctx, orders, []string{"k", "", "", ""})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureTable(ctx, orders))

	require.NoError(t, s.Insert(ctx, orders, []string{"o2", "a", "d", "s"}))
	err := s.Insert(ctx, orders, []string{"o2", "a", "d", "s"})
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)

	// Key position in values is ignored on update.
	require.NoError(t, s.Update(ctx, orders, "o2", []string{"zzz", "b", "d2", "s2"}))
	row, err := s.Get(ctx, orders, "o2")
	require.NoError(t, err)
	assert.Equal(t, []string{"o2", "b", "d2", "s2"}, row)

	assert.ErrorIs(t, s.Update(ctx, orders, "nope", []string{"nope", "", "", ""}), storage.ErrNotFound)
	require.NoError(t, s.Delete(ctx, orders, "o2"))
	assert.ErrorIs(t, s.Delete(ctx, orders, "o2"), storage.ErrNotFound)
	_, err = s.Get(ctx, orders, "o2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestList_SortAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureTable(ctx, orders))
	for _, k := range []string{"b", "c", "a"} {
		require.NoError(t, s.Insert(ctx, orders, []string{k, "", "", ""}))
	}

	rows, err := s.List(ctx, orders, storage.ListOptions{Sort: storage.SortDesc, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0][0])
	assert.Equal(t, "b", rows[1][0])

	rows, err = s.List(ctx, orders, storage.ListOptions{Sort: storage.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, "a", rows[0][0])
}

func TestDropTable(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.EnsureTable(ctx, orders))
	require.NoError(t, s.Insert(ctx, orders, []string{"o1", "", "", ""}))
	require.NoError(t, s.DropTable(ctx, orders))

	_, err := s.List(ctx, orders, storage.ListOptions{})
	assert.Error(t, err)

	require.NoError(t, s.EnsureTable(ctx, orders))
	rows, err := s.List(ctx, orders, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRegistered(t *testing.T) {
	s, err := storage.New(context.Background(), storage.Config{Kind: "memory"})
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}

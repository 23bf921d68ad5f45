package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvload/internal/detect"
	"csvload/internal/ingest"
	_ "csvload/internal/parser/csv"
	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/internal/storage/memory"
)

type recordingPublisher struct {
	mu   sync.Mutex
	reps []ingest.Report
}

func (p *recordingPublisher) Publish(_ context.Context, rep ingest.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reps = append(p.reps, rep)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reps)
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newInbox(t *testing.T, opt Options) (*Inbox, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.New()
	pub := &recordingPublisher{}
	in, err := New(opt, detect.New(schema.Default()), ingest.NewEngine(store, nil), pub, nil)
	require.NoError(t, err)
	return in, store, pub
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	in, store, pub := newInbox(t, Options{Dir: dir})

	write(t, dir, "orders.csv", "order_id,address,date,status\no1,A,2024-01-01,NEW\no2,B,2024-01-02\n")
	write(t, dir, "products.csv", "PRICE,name,product_id,order_id,category,description\n3,ball,p1,o1,toys,red\n")
	write(t, dir, "mystery.csv", "foo,bar\n1,2\n")
	write(t, dir, "broken.csv", "order_id,address,date,status\n\"o9,a,d,s\n")
	write(t, dir, ".partial.csv", "order_id,address,date,status\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	reps, err := in.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, reps, 4)

	byName := map[string]ingest.Report{}
	for _, r := range reps {
		byName[r.Filename] = r
	}
	assert.Equal(t, ingest.StatusOK, byName["orders.csv"].Status)
	assert.Equal(t, 1, byName["orders.csv"].RowsAccepted)
	assert.Equal(t, []int{1}, byName["orders.csv"].SkippedRows)
	assert.Equal(t, schema.Products, byName["products.csv"].Schema)
	assert.Equal(t, ingest.StatusUnknownSchema, byName["mystery.csv"].Status)
	assert.Equal(t, ingest.StatusError, byName["broken.csv"].Status)
	assert.NotEmpty(t, byName["broken.csv"].Error)

	opt := in.Options()
	for _, n := range []string{"orders.csv", "products.csv", "mystery.csv"} {
		assert.FileExists(t, filepath.Join(opt.ProcessedDir, n))
		assert.NoFileExists(t, filepath.Join(dir, n))
	}
	assert.FileExists(t, filepath.Join(opt.FailedDir, "broken.csv"))
	assert.FileExists(t, filepath.Join(dir, ".partial.csv"))
	assert.Equal(t, 4, pub.count())

	rows, err := store.List(context.Background(), storage.SpecFor(schema.ProductsSchema()), storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p1", rows[0][0])

	again, err := in.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSweepDoesNotOverwriteProcessed(t *testing.T) {
	dir := t.TempDir()
	in, _, _ := newInbox(t, Options{Dir: dir})
	in.now = func() time.Time { return time.Unix(0, 42) }

	write(t, dir, "a.csv", "foo\n")
	_, err := in.Sweep(context.Background())
	require.NoError(t, err)
	write(t, dir, "a.csv", "bar\n")
	_, err = in.Sweep(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(in.Options().ProcessedDir, "a.csv"))
	assert.FileExists(t, filepath.Join(in.Options().ProcessedDir, "a.42.csv"))
}

func TestSweepCanceledLeavesFiles(t *testing.T) {
	dir := t.TempDir()
	in, _, pub := newInbox(t, Options{Dir: dir})
	write(t, dir, "orders.csv", "order_id,address,date,status\no1,A,d,s\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.FileExists(t, filepath.Join(dir, "orders.csv"))
	assert.Zero(t, pub.count())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{}, detect.New(schema.Default()), ingest.NewEngine(memory.New(), nil), nil, nil)
	assert.Error(t, err)
	_, err = New(Options{Dir: t.TempDir()}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestRunBadSchedule(t *testing.T) {
	in, _, _ := newInbox(t, Options{Dir: t.TempDir(), Schedule: "not a cron"})
	err := in.Run(context.Background())
	assert.ErrorContains(t, err, "schedule")
}

func TestRunPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	in, _, pub := newInbox(t, Options{Dir: dir, Debounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	// The start sweep finds nothing; the watcher must pick this up.
	time.Sleep(50 * time.Millisecond)
	write(t, dir, "orders.csv", "order_id,address,date,status\no1,A,d,s\n")

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(in.Options().ProcessedDir, "orders.csv"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, pub.count(), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"csvload/internal/ingest"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	fail bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("broker down")
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, msgs...)
	f.mu.Unlock()
	return nil
}

var fixed = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func sampleReport() ingest.Report {
	return ingest.Report{
		Filename:     "orders.csv",
		Schema:       "orders",
		RowsAccepted: 2,
		RowsInserted: 1,
		SkippedRows:  []int{3},
		Status:       ingest.StatusOK,
	}
}

func TestKafka_Publish(t *testing.T) {
	fw := &fakeWriter{}
	k := &Kafka{w: fw, now: func() time.Time { return fixed }}

	if err := k.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fw.msgs))
	}
	m := fw.msgs[0]
	if string(m.Key) != "orders.csv" {
		t.Fatalf("key = %q", m.Key)
	}
	var got map[string]any
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["table"] != "orders" || got["rowCount"] != 2.0 || got["at"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("value = %v", got)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafka_PublishError(t *testing.T) {
	k := &Kafka{w: &fakeWriter{fail: true}, now: time.Now}
	if err := k.Publish(context.Background(), sampleReport()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewKafka_Validation(t *testing.T) {
	if _, err := NewKafka(" , ", "t"); err == nil {
		t.Fatalf("expected error for empty brokers")
	}
	if _, err := NewKafka("localhost:9092", ""); err == nil {
		t.Fatalf("expected error for empty topic")
	}
	k, err := NewKafka("a:9092, b:9092", "reports")
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	kw, ok := k.w.(*kafka.Writer)
	if !ok || kw.Topic != "reports" || kw.Addr.String() != "a:9092,b:9092" {
		t.Fatalf("writer = %+v", k.w)
	}
	_ = k.Close()
}

func TestFile_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.jsonl")
	p, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	p.now = func() time.Time { return fixed }

	r1 := sampleReport()
	r2 := sampleReport()
	r2.Filename, r2.Status, r2.Error = "bad.csv", ingest.StatusError, "parse: line 2: boom"
	for _, r := range []ingest.Report{r1, r2} {
		if err := p.Publish(context.Background(), r); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var got []Event
	s := bufio.NewScanner(f)
	for s.Scan() {
		var e Event
		if err := json.Unmarshal(s.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 || got[0].Filename != "orders.csv" || got[1].Error == "" || !got[1].At.Equal(fixed) {
		t.Fatalf("events = %+v", got)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

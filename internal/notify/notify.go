// Package notify announces finished ingest reports to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"csvload/internal/ingest"
)

// Publisher delivers one report. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, rep ingest.Report) error
	Close() error
}

// Event is the message body published for a report.
type Event struct {
	ingest.Report
	At time.Time `json:"at"`
}

// Nop discards every report.
type Nop struct{}

func (Nop) Publish(context.Context, ingest.Report) error { return nil }
func (Nop) Close() error                                 { return nil }

// messageWriter abstracts kafka.Writer for tests.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka publishes reports as JSON, keyed by filename so every report for a
// file lands on the same partition.
type Kafka struct {
	w   messageWriter
	now func() time.Time
}

// NewKafka creates a synchronous writer for topic. brokers is a
// comma-separated list of host:port.
func NewKafka(brokers, topic string) (*Kafka, error) {
	var addrs []string
	for _, a := range strings.Split(brokers, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("notify: no kafka brokers")
	}
	if topic == "" {
		return nil, errors.New("notify: empty kafka topic")
	}
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, now: time.Now}, nil
}

func (k *Kafka) Publish(ctx context.Context, rep ingest.Report) error {
	b, err := json.Marshal(Event{Report: rep, At: k.now().UTC()})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(rep.Filename), Value: b}); err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	if c, ok := k.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// File appends one JSON line per report.
type File struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	now func() time.Time
}

// NewFile opens path for appending, creating it if needed.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("notify: open %s: %w", path, err)
	}
	return &File{f: f, enc: json.NewEncoder(f), now: time.Now}, nil
}

func (p *File) Publish(_ context.Context, rep ingest.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(Event{Report: rep, At: p.now().UTC()}); err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	return nil
}

func (p *File) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*Kafka)(nil)
	_ Publisher = (*File)(nil)
)

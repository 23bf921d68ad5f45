package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"csvload/internal/config"
	"csvload/internal/detect"
	"csvload/internal/ingest"
	"csvload/internal/metrics"
	"csvload/internal/metrics/datadog"
	"csvload/internal/metrics/prom"
	"csvload/internal/notify"
	"csvload/internal/schema"
	"csvload/internal/storage"
)

// app holds what every command needs. Close releases it in reverse order.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	store  storage.Store
	det    *detect.Detector
	eng    *ingest.Engine
	pub    notify.Publisher
	// scrape serves /metrics for the prometheus and pushgateway backends.
	scrape http.Handler

	closers []func()
}

// newApp loads config and wires logging and metrics. The store and
// publisher are opened only when withStore is set.
func newApp(ctx context.Context, rf *rootFlags, withStore bool) (*app, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: newLogger(rf.verbose, os.Stderr)}

	scrape, err := setupMetrics(ctx, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	a.scrape = scrape
	a.onClose(func() {
		if err := metrics.Close(); err != nil {
			log.Printf("metrics: close: %v", err)
		}
	})

	popt := cfg.Ingest.ParserOptions()
	a.det = detect.New(schema.Default(), detect.WithParserOptions(popt))

	if !withStore {
		return a, nil
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Kind, err)
	}
	a.store = store
	a.onClose(store.Close)

	a.eng = ingest.NewEngine(store, a.logger)
	a.eng.Parser = popt
	a.eng.Workers = cfg.Ingest.Workers

	pub, err := newPublisher(cfg.Kafka, rf.reportLog)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pub = pub
	a.onClose(func() {
		if err := pub.Close(); err != nil {
			log.Printf("notify: close: %v", err)
		}
	})

	if rf.verbose {
		log.Printf("csvload: storage=%s workers=%d metrics=%s", cfg.Storage.Kind, cfg.Ingest.Workers, cfg.Metrics.Backend)
	}
	return a, nil
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newLogger returns the logger handed to the engine, inbox and server.
// Without verbose their per-row and per-file lines are dropped.
func newLogger(verbose bool, w io.Writer) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(w, "", log.LstdFlags)
}

// setupMetrics installs the configured process-wide metrics backend.
func setupMetrics(ctx context.Context, cfg config.Metrics) (http.Handler, error) {
	switch cfg.Backend {
	case "", config.MetricsNone:
		return nil, nil
	case config.MetricsDatadog:
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       datadog.ParseTagsCSV(cfg.Tags),
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return nil, nil
	case config.MetricsPrometheus:
		b := prom.NewBackend(prom.Options{Job: cfg.Job})
		metrics.SetBackend(b)
		return b.Handler(), nil
	case config.MetricsPushgateway:
		b := prom.NewBackend(prom.Options{Job: cfg.Job, PushURL: cfg.PushgatewayURL})
		metrics.SetBackend(b)
		return b.Handler(), nil
	}
	return nil, fmt.Errorf("%w: %q", metrics.ErrUnknownBackend, cfg.Backend)
}

// newPublisher picks Kafka when brokers are configured, else the report log
// file when one is given, else nothing.
func newPublisher(k config.Kafka, reportLog string) (notify.Publisher, error) {
	switch {
	case k.Brokers != "":
		return notify.NewKafka(k.Brokers, k.Topic)
	case reportLog != "":
		return notify.NewFile(reportLog)
	}
	return notify.Nop{}, nil
}

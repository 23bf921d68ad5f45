// Package prom implements metrics.Backend on a Prometheus registry.
//
// The registry is served for scraping through Handler. When PushURL is set,
// Flush also pushes the registry to a Pushgateway, which is how the one-shot
// CLI commands report.
package prom

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"csvload/internal/metrics"
)

// Options configures the backend.
type Options struct {
	// Job is the Pushgateway job label. Defaults to "csvload".
	Job string
	// PushURL enables Pushgateway pushes on Flush, e.g. "http://localhost:9091".
	PushURL string
}

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	reg *prometheus.Registry

	files   *prometheus.CounterVec
	rows    *prometheus.CounterVec
	detect  *prometheus.CounterVec
	fileDur *prometheus.HistogramVec
	httpReq *prometheus.CounterVec
	httpDur *prometheus.HistogramVec

	pusher *push.Pusher
}

func NewBackend(opts Options) *Backend {
	r := prometheus.NewRegistry()
	b := &Backend{
		reg: r,
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Files processed, by detected schema and outcome status.",
		}, []string{"schema", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Data rows, by schema and outcome (inserted, duplicate, skipped).",
		}, []string{"schema", "outcome"}),
		detect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.DetectTotal,
			Help: "Header detections, by schema.",
		}, []string{"schema"}),
		fileDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.FileDurationSeconds,
			Help:    "Wall time to ingest one file.",
			Buckets: prometheus.DefBuckets,
		}, []string{"schema", "status"}),
		httpReq: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.HTTPRequestsTotal,
			Help: "HTTP requests served, by route pattern and status code.",
		}, []string{"route", "code"}),
		httpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.HTTPDurationSeconds,
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	r.MustRegister(b.files, b.rows, b.detect, b.fileDur, b.httpReq, b.httpDur)

	if opts.PushURL != "" {
		job := opts.Job
		if job == "" {
			job = "csvload"
		}
		b.pusher = push.New(opts.PushURL, job).Gatherer(r)
	}
	return b
}

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.FilesTotal:
		b.files.WithLabelValues(get(labels, "schema"), get(labels, "status")).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(get(labels, "schema"), get(labels, "outcome")).Add(delta)
	case metrics.DetectTotal:
		b.detect.WithLabelValues(get(labels, "schema")).Add(delta)
	case metrics.HTTPRequestsTotal:
		b.httpReq.WithLabelValues(get(labels, "route"), get(labels, "code")).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	switch name {
	case metrics.FileDurationSeconds:
		b.fileDur.WithLabelValues(get(labels, "schema"), get(labels, "status")).Observe(value)
	case metrics.HTTPDurationSeconds:
		b.httpDur.WithLabelValues(get(labels, "route"), get(labels, "code")).Observe(value)
	}
}

// Flush pushes to the Pushgateway when one is configured.
func (b *Backend) Flush() error {
	if b.pusher == nil {
		return nil
	}
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prom: push: %w", err)
	}
	return nil
}

func get(l metrics.Labels, k string) string {
	if v := l[k]; v != "" {
		return v
	}
	return "unknown"
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)

// Package prompush exports ingest metrics to a Prometheus Pushgateway.
// Every Flush replaces the job's group on the gateway with the current
// registry contents.
package prompush

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"ctingest/internal/metrics"
)

// Backend implements metrics.Backend on a private registry.
type Backend struct {
	pusher *push.Pusher

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

var _ metrics.Backend = (*Backend)(nil)

type def struct {
	name    string
	help    string
	labels  []string
	buckets []float64 // nil for counters
}

var defs = []def{
	{name: metrics.StepTotal, help: "Pipeline stages run, by outcome.", labels: []string{"step", "status"}},
	{name: metrics.StepDurationSeconds, help: "Pipeline stage duration.", labels: []string{"step", "status"},
		buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}},
	{name: metrics.RecordsTotal, help: "Records processed, by kind.", labels: []string{"kind"}},
	{name: metrics.BatchesTotal, help: "Insert batches executed."},
	{name: metrics.HTTPRequestsTotal, help: "Download requests, by status.", labels: []string{"status"}},
	{name: metrics.HTTPErrorsTotal, help: "Failed download requests, by status.", labels: []string{"status"}},
	{name: metrics.HTTPRequestDurationSeconds, help: "Download duration.", labels: []string{"status"},
		buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300}},
	{name: metrics.HTTPDownloadBytes, help: "Downloaded body size.", labels: []string{"status"},
		buckets: prometheus.ExponentialBuckets(1<<10, 4, 10)},
}

// NewBackend registers the ingest metrics and targets gatewayURL under job.
// client may be nil.
func NewBackend(job, gatewayURL string, client *http.Client) (*Backend, error) {
	if job == "" {
		return nil, fmt.Errorf("prompush: job name is required")
	}
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}
	for _, d := range defs {
		b.labels[d.name] = d.labels
		if d.buckets == nil {
			cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: d.name, Help: d.help}, d.labels)
			reg.MustRegister(cv)
			b.counters[d.name] = cv
			continue
		}
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: d.name, Help: d.help, Buckets: d.buckets}, d.labels)
		reg.MustRegister(hv)
		b.histograms[d.name] = hv
	}

	p := push.New(gatewayURL, job).Gatherer(reg)
	if client != nil {
		p = p.Client(client)
	}
	b.pusher = p
	return b, nil
}

// values orders labels the way name's vector was declared.
func (b *Backend) values(name string, labels metrics.Labels) []string {
	keys := b.labels[name]
	out := make([]string, len(keys))
	for i, k := range keys {
		v := labels[k]
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	cv, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	cv.WithLabelValues(b.values(name, labels)...).Add(delta)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	hv, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	hv.WithLabelValues(b.values(name, labels)...).Observe(value)
}

// Flush pushes the registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

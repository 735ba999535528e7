// Package datadog submits ingest metrics to Datadog.
//
// Counters and histogram samples are buffered in memory and submitted on a
// ticker (default once per minute) and once more on Close. Histograms are
// reduced to percentile gauges at flush time.
//
// If the process is killed before Close runs, the tail of the buffer is lost.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"ctingest/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "ingest".
	JobName string

	// Tags are extra Datadog tags, e.g. []string{"env:prod", "team:data"}.
	Tags []string

	// FlushEvery defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams; production leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend calls.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// series describes how one internal metric is named and tagged in Datadog.
type series struct {
	name   string
	labels []string
	// required drops observations that lack the first label.
	required bool
}

var known = map[string]series{
	metrics.StepTotal:                  {name: "ingest.step.total", labels: []string{"step", "status"}},
	metrics.StepDurationSeconds:        {name: "ingest.step.duration_seconds", labels: []string{"step", "status"}},
	metrics.RecordsTotal:               {name: "ingest.records.total", labels: []string{"kind"}, required: true},
	metrics.BatchesTotal:               {name: "ingest.batches.total"},
	metrics.HTTPRequestsTotal:          {name: "ingest.http.requests.total", labels: []string{"status"}},
	metrics.HTTPErrorsTotal:            {name: "ingest.http.errors.total", labels: []string{"status"}},
	metrics.HTTPRequestDurationSeconds: {name: "ingest.http.request_duration_seconds", labels: []string{"status"}},
	metrics.HTTPDownloadBytes:          {name: "ingest.http.download_bytes", labels: []string{"status"}},
}

// key identifies one buffered series: Datadog name plus its extra tags.
type key struct {
	name string
	tags string // "\x00"-joined
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[key]float64
	samples  map[key][]float64
}

var _ metrics.Backend = (*Backend)(nil)

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend starts a backend with its flush loop. The Datadog client reads
// DD_API_KEY and DD_SITE from the environment; network errors surface from
// Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "ingest"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[key]float64),
		samples:    make(map[key][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and flushes one last time. Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// resolve maps an internal metric to its buffer key. ok is false for
// unknown metrics and for observations missing a required label.
func resolve(name string, labels metrics.Labels) (key, bool) {
	s, ok := known[name]
	if !ok {
		return key{}, false
	}
	if s.required && labels[s.labels[0]] == "" {
		return key{}, false
	}
	tags := make([]string, len(s.labels))
	for i, l := range s.labels {
		v := labels[l]
		if v == "" {
			v = "unknown"
		}
		tags[i] = l + ":" + v
	}
	return key{name: s.name, tags: strings.Join(tags, "\x00")}, true
}

// IncCounter implements metrics.Backend. Non-positive deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k, ok := resolve(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k, ok := resolve(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// snapshotAndReset detaches the buffers so submission runs out of lock.
func (b *Backend) snapshotAndReset() (map[key]float64, map[key][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, s := b.counters, b.samples
	b.counters = make(map[key]float64)
	b.samples = make(map[key][]float64)
	return c, s
}

// Flush submits everything buffered since the last flush. Buffers are reset
// even when submission fails.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(counters, samples, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries renders counters as COUNT series and samples as percentile
// gauges, in a stable order.
func (b *Backend) buildSeries(counters map[key]float64, samples map[key][]float64, nowUnix int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for _, k := range sortedKeys(counters) {
		out = append(out, point(datadogV2.METRICINTAKETYPE_COUNT, k.name, counters[k], b.tagsFor(k), nowUnix))
	}
	for _, k := range sortedKeys(samples) {
		addPercentiles(&out, k.name, samples[k], b.tagsFor(k), nowUnix)
	}
	return out
}

func (b *Backend) tagsFor(k key) []string {
	if k.tags == "" {
		return withTags(b.baseTags)
	}
	return withTags(b.baseTags, strings.Split(k.tags, "\x00")...)
}

func sortedKeys[V any](m map[key]V) []key {
	ks := make([]key, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool {
		if ks[i].name != ks[j].name {
			return ks[i].name < ks[j].name
		}
		return ks[i].tags < ks[j].tags
	})
	return ks
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges. samples is not
// modified.
func addPercentiles(out *[]datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	gauge := func(suffix string, v float64) {
		*out = append(*out, point(datadogV2.METRICINTAKETYPE_GAUGE, prefix+suffix, v, tags, nowUnix))
	}
	gauge(".p50", percentileNearestRank(cp, 0.50))
	gauge(".p90", percentileNearestRank(cp, 0.90))
	gauge(".p95", percentileNearestRank(cp, 0.95))
	gauge(".p99", percentileNearestRank(cp, 0.99))
	gauge(".max", cp[len(cp)-1])
	gauge(".samples", float64(len(cp)))
}

func point(typ datadogV2.MetricIntakeType, metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	return s[min(max(idx, 0), n-1)]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

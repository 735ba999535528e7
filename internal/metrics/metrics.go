// Package metrics is the process-wide metrics seam. Pipeline code records
// through the helpers below; cmd/ wiring picks a Backend with SetBackend.
// Without one, every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives counters and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	StepTotal           = "ingest_step_total"
	StepDurationSeconds = "ingest_step_duration_seconds"
	RecordsTotal        = "ingest_records_total"
	BatchesTotal        = "ingest_batches_total"

	HTTPRequestsTotal          = "ingest_http_requests_total"
	HTTPErrorsTotal            = "ingest_http_errors_total"
	HTTPRequestDurationSeconds = "ingest_http_request_duration_seconds"
	HTTPDownloadBytes          = "ingest_http_download_bytes"
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nop{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// Status is "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one pipeline stage and observes its duration.
func RecordStep(step string, err error, d time.Duration) {
	l := Labels{"step": step, "status": Status(err)}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts n records of a kind ("downloaded", "loaded").
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one inserted batch.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// RecordHTTP records one download attempt. status is 0 when no response
// arrived; size is the number of body bytes read.
func RecordHTTP(status int, err error, d time.Duration, size int64) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	l := Labels{"status": code}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status < 200 || status > 299 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDurationSeconds, d.Seconds(), l)
	if size > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), l)
	}
}

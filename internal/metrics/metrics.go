// Package metrics is the backend-neutral metrics facade used by the merge
// pipeline. Core code records through the package-level helpers; a concrete
// backend (for example metrics/datadog) is installed once at startup with
// SetBackend. Until then every call goes to a nop backend.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are the dimensions attached to a single observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names shared between the facade and the backends.
const (
	StepTotal           = "rules_step_total"
	StepDurationSeconds = "rules_step_duration_seconds"
	EntriesTotal        = "rules_entries_total"
	HTTPRequestsTotal   = "rules_http_requests_total"
	HTTPErrorsTotal     = "rules_http_errors_total"
	HTTPRequestSeconds  = "rules_http_request_duration_seconds"
	HTTPResponseSeconds = "rules_http_response_duration_seconds"
	HTTPDownloadBytes   = "rules_http_download_bytes"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
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
func Flush() error { return current().Flush() }

// RecordStep counts one pipeline step outcome and its duration.
// status is "ok" when err is nil and "error" otherwise.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordEntries adds n to the entry counter of the given kind
// (for example "before_dedup", "after_dedup", "keyword_migrated").
func RecordEntries(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(EntriesTotal, float64(n), Labels{"kind": kind})
}

// RecordHTTP records one HTTP attempt. A statusCode of 0 means no response
// was received. Negative durations and sizes are treated as unknown and skipped.
func RecordHTTP(job string, statusCode int, err error, reqDur, respDur time.Duration, size int64) {
	status := "0"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	l := Labels{"job": job, "status": status}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode < 200 || statusCode >= 300 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if reqDur >= 0 {
		b.ObserveHistogram(HTTPRequestSeconds, reqDur.Seconds(), l)
	}
	if respDur >= 0 {
		b.ObserveHistogram(HTTPResponseSeconds, respDur.Seconds(), l)
	}
	if size >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), l)
	}
}

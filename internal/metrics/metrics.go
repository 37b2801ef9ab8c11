// Package metrics is a small facade over a pluggable metrics backend.
//
// Pipeline code records through the package-level helpers. The default
// backend discards everything, so nothing needs configuring for local runs.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by callers and backends.
const (
	StepTotal        = "etl_step_total"
	StepDuration     = "etl_step_duration_seconds"
	RecordsTotal     = "etl_records_total"
	RowsDroppedTotal = "etl_rows_dropped_total"
)

// Labels are metric dimensions, e.g. {"step": "reconcile", "status": "ok"}.
type Labels map[string]string

// Backend receives counter increments and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample for the named histogram.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit buffered data.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one pipeline step and observes its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRows counts rows produced for kind (a table or snapshot name).
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordDropped counts rows dropped from table for reason.
func RecordDropped(table, reason string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsDroppedTotal, float64(n), Labels{"table": table, "reason": reason})
}

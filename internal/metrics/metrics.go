// Package metrics is the process-wide metrics facade. Core code records
// through the helpers below and never imports a concrete backend; the CLI
// installs one with SetBackend. Until then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "ingest", "status": "ok"}.
type Labels map[string]string

// Backend receives metric points.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Metric names understood by the backends.
const (
	StepTotal       = "export_step_total"
	StepDuration    = "export_step_duration_seconds"
	RowsTotal       = "export_rows_total"
	BatchesTotal    = "export_batches_total"
	TruncationTotal = "export_truncations_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
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

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the backend when it buffers.
func Flush() error {
	if f, ok := current().(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one run of step and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"job": job, "step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordBatch counts one committed batch.
func RecordBatch(job string) {
	IncCounter(BatchesTotal, 1, Labels{"job": job})
}

// RecordRows counts rows written per table kind (primary, connected, link).
func RecordRows(job, kind string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordTruncations counts values that hit the field length limit.
func RecordTruncations(job string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(TruncationTotal, float64(n), Labels{"job": job})
}

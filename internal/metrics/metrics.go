// Package metrics is the backend-agnostic metrics surface used by the load
// engine. A nop backend is installed until SetBackend is called.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends ignore names they do not know.
const (
	FilesTotal   = "pulse_files_total"           // labels: kind, status
	RowsTotal    = "pulse_rows_total"            // labels: kind
	StepDuration = "pulse_step_duration_seconds" // labels: step, status
)

// File statuses for FilesTotal.
const (
	StatusLoaded  = "loaded"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

type Labels map[string]string

type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b for the process. Nil restores the nop backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nop{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
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

func Flush() error { return current().Flush() }

// RecordFile counts one processed file for kind.
func RecordFile(kind, status string) {
	IncCounter(FilesTotal, 1, Labels{"kind": kind, "status": status})
}

// RecordRows counts inserted rows for kind.
func RecordRows(kind string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordStep observes the wall time of a named step.
func RecordStep(step, status string, d time.Duration) {
	ObserveHistogram(StepDuration, d.Seconds(), Labels{"step": step, "status": status})
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error                             { return nil }

// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the sink.
//
// The package exposes a narrow interface (Backend) for counters and timing
// data, and a global, pluggable backend that defaults to a no-op so that
// instrumentation is always safe to call. Concrete systems live in
// subpackages (prompush, datadog) and are installed at startup with
// SetBackend.
package metrics

import "time"

// Series names.
const (
	CyclesTotal          = "sink_cycles_total"
	CycleDurationSeconds = "sink_cycle_duration_seconds"
	RecordsTotal         = "sink_records_total"
	ReloadsTotal         = "sink_reloads_total"
)

// Cycle statuses.
const (
	StatusReady   = "ready"
	StatusBackoff = "backoff"
	StatusFailed  = "failed"
)

// Record kinds counted per cycle.
const (
	KindTaken     = "taken"
	KindRejected  = "rejected"
	KindUnknown   = "unknown_table"
	KindMalformed = "malformed"
	KindInserted  = "inserted"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
// Call it once at startup before any worker runs.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordCycle counts one finished write cycle and its duration.
func RecordCycle(job, status string, d time.Duration) {
	lbls := Labels{"job": job, "status": status}
	backend.IncCounter(CyclesTotal, 1, lbls)
	backend.ObserveHistogram(CycleDurationSeconds, d.Seconds(), lbls)
}

// RecordRecords adds delta records of the given kind. Non-positive deltas
// are ignored.
func RecordRecords(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordReload counts one schema reload attempt.
func RecordReload(job string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	backend.IncCounter(ReloadsTotal, 1, Labels{
		"job":    job,
		"status": status,
	})
}

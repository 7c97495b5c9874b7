// Package metrics records run counters and step timings behind a small
// Backend interface. The default backend discards everything, so callers
// never check whether metrics are configured.
package metrics

import "time"

// Metric names understood by the backends.
const (
	StepTotal    = "labmigrate_step_total"
	StepDuration = "labmigrate_step_duration_seconds"
	RecordsTotal = "labmigrate_records_total"
	IssuesTotal  = "labmigrate_issues_total"
	BatchesTotal = "labmigrate_batches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
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

// RecordStep counts one execution of a job step and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow adds delta to a per-job record counter. Kinds used by the
// importer are "rows", "events", "specimens", "tests" and "dropped".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordIssue counts one skip-log entry by reason.
func RecordIssue(job, reason string) {
	backend.IncCounter(IssuesTotal, 1, Labels{"job": job, "reason": reason})
}

// RecordBatches increments the committed-batch counter for a job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{"job": job})
}

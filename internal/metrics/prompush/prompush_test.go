package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"labmigrate/internal/metrics"
)

// readCounterValue reads the current value of a Counter for assertions.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("x", ""); err == nil {
		t.Fatalf("want error without gateway URL")
	}
	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.jobName != "labmigrate" {
		t.Fatalf("jobName = %q", b.jobName)
	}
}

// TestIncCounter verifies routing to collectors; unknown names are ignored.
func TestIncCounter(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("labmigrate", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"job": "p1", "kind": "events"})
	b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"job": "p1", "kind": "events"})
	b.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{"job": "p2", "reason": "invalid_date"})
	b.IncCounter(metrics.BatchesTotal, 3, metrics.Labels{"job": "p2"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"job": "p2", "step": "write", "status": "success"})
	b.IncCounter("unknown_metric", 10, metrics.Labels{"job": "p1"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"job": "p2", "step": "write", "status": "success"})
	b.ObserveHistogram("other", 1, nil)

	if got := readCounterValue(t, b.recordCounter.WithLabelValues("p1", "events")); got != 7 {
		t.Fatalf("records = %v, want 7", got)
	}
	if got := readCounterValue(t, b.issueCounter.WithLabelValues("p2", "invalid_date")); got != 1 {
		t.Fatalf("issues = %v, want 1", got)
	}
	if got := readCounterValue(t, b.batchCounter.WithLabelValues("p2")); got != 3 {
		t.Fatalf("batches = %v, want 3", got)
	}
	if got := readCounterValue(t, b.stepCounter.WithLabelValues("p2", "write", "success")); got != 1 {
		t.Fatalf("steps = %v, want 1", got)
	}
}

// TestFlush_PushesToGateway checks the push lands on the job's group path.
func TestFlush_PushesToGateway(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("labmigrate", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"job": "p1", "kind": "rows"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", method)
	}
	if path != "/metrics/job/labmigrate" {
		t.Fatalf("path = %s", path)
	}
	if !strings.Contains(body, metrics.RecordsTotal) {
		t.Fatalf("pushed body does not mention %s", metrics.RecordsTotal)
	}
}

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string][]float64
	flushes  int
}

func newRecording() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, hists: map[string][]float64{}}
}

func (r *recordingBackend) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+l["kind"]+l["status"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[name] = append(r.hists[name], v)
}

func (r *recordingBackend) Flush() error { r.flushes++; return nil }

// Tests in this file swap the process-wide backend and must not run in parallel.
func TestFacade_RoutesToBackend(t *testing.T) {
	rb := newRecording()
	SetBackend(rb)
	defer SetBackend(nil)

	RecordStep("job", "ingest", nil, 1500*time.Millisecond)
	RecordStep("job", "ingest", errors.New("x"), time.Second)
	RecordBatch("job")
	RecordRows("job", "link", 3)
	RecordRows("job", "link", 0)
	RecordTruncations("job", 2)

	if rb.counters[StepTotal+"|ok"] != 1 || rb.counters[StepTotal+"|error"] != 1 {
		t.Fatalf("step counters: %#v", rb.counters)
	}
	if rb.counters[RowsTotal+"|link"] != 3 {
		t.Fatalf("rows counter: %#v", rb.counters)
	}
	if rb.counters[BatchesTotal+"|"] != 1 || rb.counters[TruncationTotal+"|"] != 2 {
		t.Fatalf("batch/truncation counters: %#v", rb.counters)
	}
	if got := rb.hists[StepDuration]; len(got) != 2 || got[0] != 1.5 {
		t.Fatalf("durations: %#v", got)
	}
	if err := Flush(); err != nil || rb.flushes != 1 {
		t.Fatalf("Flush: err=%v flushes=%d", err, rb.flushes)
	}
}

func TestFacade_NopByDefault(t *testing.T) {
	SetBackend(nil)
	RecordRows("job", "primary", 10)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop backend: %v", err)
	}
}

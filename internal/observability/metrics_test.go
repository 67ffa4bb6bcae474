package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordProduced(0, 2*time.Millisecond)
	m.RecordFailed(0, ReasonDelivery)
	m.SetThroughput(0, 1234.5)
	m.WorkerStarted()
	m.RecordDeadLetter(true)
	m.RecordProvision("created")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range []string{
		"txgen_records_produced_total",
		"txgen_records_failed_total",
		"txgen_throughput_records_per_second",
		"txgen_produce_latency_seconds",
		"txgen_active_workers",
		"txgen_dead_letter_total",
		"txgen_topic_provision_total",
	} {
		if !names[name] {
			t.Errorf("expected metric %s not found", name)
		}
	}
}

func TestMetrics_Values(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordProduced(1, time.Millisecond)
	m.RecordProduced(1, time.Millisecond)
	m.RecordFailed(2, ReasonEncode)
	m.SetThroughput(1, 42)
	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerStopped()
	m.RecordDeadLetter(false)

	if got := testutil.ToFloat64(m.RecordsProduced.WithLabelValues("1")); got != 2 {
		t.Errorf("produced = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RecordsFailed.WithLabelValues("2", ReasonEncode)); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Throughput.WithLabelValues("1")); got != 42 {
		t.Errorf("throughput = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.ActiveWorkers); got != 1 {
		t.Errorf("active workers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DeadLetterTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("dead letter errors = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordProduced(0, time.Millisecond)
	m.RecordFailed(0, ReasonDelivery)
	m.SetThroughput(0, 1)
	m.WorkerStarted()
	m.WorkerStopped()
	m.RecordDeadLetter(true)
	m.RecordProvision("exists")
}

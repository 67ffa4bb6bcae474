package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons used as the reason label of RecordsFailed.
const (
	ReasonEncode   = "encode"
	ReasonDelivery = "delivery"
)

// Metrics holds all txgen Prometheus metrics.
type Metrics struct {
	RecordsProduced *prometheus.CounterVec
	RecordsFailed   *prometheus.CounterVec
	Throughput      *prometheus.GaugeVec
	ProduceLatency  *prometheus.HistogramVec
	ActiveWorkers   prometheus.Gauge
	DeadLetterTotal *prometheus.CounterVec
	ProvisionTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all txgen metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txgen_records_produced_total",
			Help: "Records acknowledged by the broker.",
		}, []string{"worker"}),
		RecordsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txgen_records_failed_total",
			Help: "Records dropped after an encode or delivery failure.",
		}, []string{"worker", "reason"}),
		Throughput: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "txgen_throughput_records_per_second",
			Help: "Most recent per-worker submit rate.",
		}, []string{"worker"}),
		ProduceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "txgen_produce_latency_seconds",
			Help:    "Time from submit to broker acknowledgment.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"worker"}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txgen_active_workers",
			Help: "Producer workers currently running their publish loop.",
		}),
		DeadLetterTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txgen_dead_letter_total",
			Help: "Failed records handed to the dead-letter topic.",
		}, []string{"status"}),
		ProvisionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txgen_topic_provision_total",
			Help: "Topic provisioning outcomes.",
		}, []string{"outcome"}),
	}
}

// RecordProduced records one acknowledged record and its submit-to-ack latency.
func (m *Metrics) RecordProduced(worker int, latency time.Duration) {
	if m == nil {
		return
	}
	w := strconv.Itoa(worker)
	m.RecordsProduced.WithLabelValues(w).Inc()
	m.ProduceLatency.WithLabelValues(w).Observe(latency.Seconds())
}

// RecordFailed records one dropped record.
func (m *Metrics) RecordFailed(worker int, reason string) {
	if m == nil {
		return
	}
	m.RecordsFailed.WithLabelValues(strconv.Itoa(worker), reason).Inc()
}

// SetThroughput publishes the latest throughput sample of a worker.
func (m *Metrics) SetThroughput(worker int, rate float64) {
	if m == nil {
		return
	}
	m.Throughput.WithLabelValues(strconv.Itoa(worker)).Set(rate)
}

// WorkerStarted increments the active worker gauge.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

// RecordDeadLetter records the outcome of a dead-letter hand-off.
func (m *Metrics) RecordDeadLetter(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.DeadLetterTotal.WithLabelValues(status).Inc()
}

// RecordProvision records a provisioning outcome (exists, created, failed).
func (m *Metrics) RecordProvision(outcome string) {
	if m == nil {
		return
	}
	m.ProvisionTotal.WithLabelValues(outcome).Inc()
}

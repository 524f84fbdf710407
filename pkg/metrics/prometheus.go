package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	processed  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	queueDepth prometheus.Gauge
	pollLag    prometheus.Gauge
}

// New creates a Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		processed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigpull_messages_processed_total",
				Help: "Messages processed by acquisition source and outcome",
			},
			[]string{"source", "outcome"},
		),
		duration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sigpull_processing_duration_seconds",
				Help:    "Per-message processing duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		errors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigpull_errors_total",
				Help: "Errors by kind (poll_cycle, ack, bus, circuit_open, full_scan)",
			},
			[]string{"type"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sigpull_queue_depth",
				Help: "Unprocessed messages seen in the last poll batch",
			},
		),
		pollLag: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sigpull_poll_lag_seconds",
				Help: "Duration of the last poll cycle",
			},
		),
	}
}

// RecordOutcome counts one processed message.
func (r *Recorder) RecordOutcome(source, outcome string) {
	r.processed.WithLabelValues(source, outcome).Inc()
}

// RecordDuration observes per-message processing time.
func (r *Recorder) RecordDuration(source string, seconds float64) {
	r.duration.WithLabelValues(source).Observe(seconds)
}

// RecordError counts an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// SetQueueDepth records the current unprocessed backlog.
func (r *Recorder) SetQueueDepth(n float64) {
	r.queueDepth.Set(n)
}

// SetPollLag records the last poll cycle duration.
func (r *Recorder) SetPollLag(seconds float64) {
	r.pollLag.Set(seconds)
}

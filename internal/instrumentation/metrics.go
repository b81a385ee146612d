package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool labels for worker metrics.
const (
	PoolPrimary  = "primary"
	PoolOverflow = "overflow"
)

// Metrics contains all Prometheus metrics for the feed hub.
type Metrics struct {
	EventsTotal    prometheus.Counter
	EventsIgnored  prometheus.Counter
	RecordsEmitted prometheus.Counter
	ConvertLatency prometheus.Histogram

	// Queue
	PrimaryDepth      prometheus.Gauge
	OverflowDepth     prometheus.Gauge
	RecordsEnqueued   prometheus.Counter
	RecordsOverflowed prometheus.Counter
	RecordsDropped    *prometheus.CounterVec

	// Delivery
	Deliveries      *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram

	StateSize   prometheus.Gauge
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "feedhub_events_total",
			Help: "Total number of upstream events received",
		}),
		EventsIgnored: f.NewCounter(prometheus.CounterOpts{
			Name: "feedhub_events_ignored_total",
			Help: "Upstream control events skipped before conversion",
		}),
		RecordsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "feedhub_records_emitted_total",
			Help: "Records produced by the convertor",
		}),
		ConvertLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedhub_convert_latency_us",
			Help:    "Time spent converting one event in microseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		}),

		PrimaryDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedhub_queue_primary_depth",
			Help: "Records waiting in the bounded primary queue",
		}),
		OverflowDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedhub_queue_overflow_depth",
			Help: "Records waiting in the overflow queue",
		}),
		RecordsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "feedhub_records_enqueued_total",
			Help: "Records accepted by the primary queue",
		}),
		RecordsOverflowed: f.NewCounter(prometheus.CounterOpts{
			Name: "feedhub_records_overflowed_total",
			Help: "Records redirected to the overflow queue because the primary queue was full",
		}),
		RecordsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedhub_records_dropped_total",
			Help: "Records lost before delivery, by reason",
		}, []string{"reason"}),

		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedhub_deliveries_total",
			Help: "Sink deliveries by worker pool and result",
		}, []string{"pool", "result"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedhub_delivery_latency_ms",
			Help:    "Format plus sink time per record in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
		}),

		StateSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedhub_state_keys",
			Help: "Instruments held in the convertor state",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedhub_errors_total",
			Help: "Total number of errors by component and type",
		}, []string{"component", "error_type"}),
	}
}

// RecordEvent counts an upstream event.
func (m *Metrics) RecordEvent() {
	m.EventsTotal.Inc()
}

// RecordIgnored counts a skipped control event.
func (m *Metrics) RecordIgnored() {
	m.EventsIgnored.Inc()
}

// RecordConverted records convert latency and whether a record came out.
func (m *Metrics) RecordConverted(latencyUs float64, emitted bool) {
	m.ConvertLatency.Observe(latencyUs)
	if emitted {
		m.RecordsEmitted.Inc()
	}
}

// RecordEnqueued counts a primary-queue send.
func (m *Metrics) RecordEnqueued() {
	m.RecordsEnqueued.Inc()
}

// RecordOverflowed counts a redirect to the overflow queue.
func (m *Metrics) RecordOverflowed() {
	m.RecordsOverflowed.Inc()
}

// RecordDropped counts a lost record.
func (m *Metrics) RecordDropped(reason string) {
	m.RecordsDropped.WithLabelValues(reason).Inc()
}

// RecordDroppedN counts n records lost together.
func (m *Metrics) RecordDroppedN(reason string, n int) {
	m.RecordsDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordQueueDepth sets both queue depth gauges.
func (m *Metrics) RecordQueueDepth(primary, overflow int) {
	m.PrimaryDepth.Set(float64(primary))
	m.OverflowDepth.Set(float64(overflow))
}

// RecordDelivery records one sink call.
func (m *Metrics) RecordDelivery(pool string, latencyMs float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Deliveries.WithLabelValues(pool, result).Inc()
	m.DeliveryLatency.Observe(latencyMs)
}

// RecordStateSize sets the number of tracked instruments.
func (m *Metrics) RecordStateSize(n int) {
	m.StateSize.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

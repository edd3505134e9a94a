package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Buffer metrics
	EventsPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metmac_events_pushed_total",
			Help: "Total number of events accepted into the buffer",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metmac_events_dropped_total",
			Help: "Total number of buffered events discarded by the drop_oldest overflow policy",
		},
	)

	EventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metmac_events_rejected_total",
			Help: "Total number of events refused at the producer boundary by reason",
		},
		[]string{"reason"},
	)

	PendingEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "metmac_buffer_pending_events",
			Help: "Number of events held in memory awaiting flush",
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metmac_flushes_total",
			Help: "Total number of non-empty flush attempts by result",
		},
		[]string{"result"},
	)

	FlushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metmac_flush_batch_size",
			Help:    "Number of events per flush attempt",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metmac_flush_duration_seconds",
			Help:    "Time taken to write a batch to the store in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Store metrics
	EventsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metmac_events_persisted_total",
			Help: "Total number of events committed to the store by backend",
		},
		[]string{"backend"},
	)

	StoreQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metmac_store_query_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metmac_api_requests_total",
			Help: "Total number of dashboard API requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metmac_api_request_duration_seconds",
			Help:    "Dashboard API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(EventsPushed)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(EventsRejected)
	prometheus.MustRegister(PendingEvents)
	prometheus.MustRegister(FlushesTotal)
	prometheus.MustRegister(FlushBatchSize)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(EventsPersisted)
	prometheus.MustRegister(StoreQueryDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on the labelled child of v.
func (t *Timer) ObserveDurationVec(v *prometheus.HistogramVec, labels ...string) {
	v.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sampler metrics
	SamplesAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trail_samples_accepted_total",
			Help: "Total number of location fixes accepted by the sampler",
		},
	)

	SamplesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_samples_dropped_total",
			Help: "Total number of location fixes dropped by reason",
		},
		[]string{"reason"},
	)

	SamplesImplausible = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trail_samples_implausible_total",
			Help: "Accepted fixes whose distance delta was zeroed for implausible speed",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trail_queue_depth",
			Help: "Number of entries waiting in the durable queue",
		},
	)

	QueueEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trail_queue_evicted_total",
			Help: "Total number of entries evicted by the capacity trim",
		},
	)

	QueueCorrupt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trail_queue_corrupt_total",
			Help: "Total number of undecodable entries dropped from the queue",
		},
	)

	// Sync metrics
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_flushes_total",
			Help: "Total number of flushes by outcome",
		},
		[]string{"outcome"},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trail_flush_duration_seconds",
			Help:    "Time taken by one flush in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EntriesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trail_entries_delivered_total",
			Help: "Total number of entries confirmed by the remote",
		},
	)

	EntriesDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trail_entries_discarded_total",
			Help: "Total number of entries deleted for owner mismatch",
		},
	)

	// Auth metrics
	AuthState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trail_auth_state",
			Help: "Current session auth state (1 for the active state)",
		},
		[]string{"state"},
	)

	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_token_refreshes_total",
			Help: "Total number of token refresh attempts by result",
		},
		[]string{"result"},
	)

	// Classifier metrics
	FatalReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trail_fatal_reports_total",
			Help: "Fatal delivery failures reported, by whether the report was suppressed",
		},
		[]string{"suppressed"},
	)
)

func init() {
	prometheus.MustRegister(SamplesAccepted)
	prometheus.MustRegister(SamplesDropped)
	prometheus.MustRegister(SamplesImplausible)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueEvicted)
	prometheus.MustRegister(QueueCorrupt)
	prometheus.MustRegister(FlushesTotal)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(EntriesDelivered)
	prometheus.MustRegister(EntriesDiscarded)
	prometheus.MustRegister(AuthState)
	prometheus.MustRegister(RefreshesTotal)
	prometheus.MustRegister(FatalReports)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

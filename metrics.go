package upload

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_submissions_total",
			Help: "Submissions by outcome (sent, queued, rejected, failed).",
		},
		[]string{"result"},
	)
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_retries_total",
			Help: "Retry attempts of queued submissions by outcome.",
		},
		[]string{"result"},
	)
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_probes_total",
			Help: "Availability probes by result.",
		},
		[]string{"available"},
	)
	storageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_storage_errors_total",
			Help: "Failed reads and writes of the persisted queue.",
		},
		[]string{"op"},
	)
	pendingCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upload_pending_count",
			Help: "Current number of queued submissions.",
		},
	)
	bakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_bake_duration_seconds",
			Help:    "Time spent rendering and encoding a preview (seconds).",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	deliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_delivery_duration_seconds",
			Help:    "Time spent delivering a submission (seconds).",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers the pipeline collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			submissionsTotal,
			retriesTotal,
			probesTotal,
			storageErrorsTotal,
			pendingCount,
			bakeDuration,
			deliveryDuration,
		)
	})
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func incSubmission(result string)     { submissionsTotal.WithLabelValues(result).Inc() }
func incRetry(result string)          { retriesTotal.WithLabelValues(result).Inc() }
func incStorageError(op string)       { storageErrorsTotal.WithLabelValues(op).Inc() }
func setPending(n int)                { pendingCount.Set(float64(n)) }
func observeBake(d time.Duration)     { bakeDuration.Observe(d.Seconds()) }
func observeDelivery(d time.Duration) { deliveryDuration.Observe(d.Seconds()) }

func incProbe(available bool) {
	if available {
		probesTotal.WithLabelValues("true").Inc()
		return
	}
	probesTotal.WithLabelValues("false").Inc()
}

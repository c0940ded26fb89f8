package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric vars are package-level so adapters can record without plumbing a
// registry through every constructor. InitMetrics must be called once per
// process before serving.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	JobsEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ocr_jobs_enqueued_total",
		Help: "Jobs accepted by the submission endpoint.",
	})

	JobsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ocr_jobs_completed_total",
		Help: "Jobs finishing with a stored result.",
	})

	JobsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_jobs_failed_total",
		Help: "Jobs finishing in failure, by stage.",
	}, []string{"stage"})

	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ocr_job_processing_seconds",
		Help:    "End-to-end worker processing time per job.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	PipelineStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocr_pipeline_stage_seconds",
		Help:    "Image pipeline stage duration.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"stage", "outcome"})

	WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"event", "outcome"})

	ResultConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ocr_result_overall_confidence",
		Help:    "Overall confidence of stored results.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	QueueRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ocr_queue_redeliveries_total",
		Help: "Payload redeliveries after lease expiry or release.",
	})
)

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsEnqueuedTotal,
		JobsCompletedTotal,
		JobsFailedTotal,
		JobProcessingDuration,
		PipelineStageDuration,
		WebhookDeliveriesTotal,
		ResultConfidence,
		QueueRetriesTotal,
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latencies. The path
// label uses the routing pattern, not the raw URL, to bound cardinality;
// callers must mount it after the router has resolved the pattern or pass
// a normalizer.
func HTTPMetricsMiddleware(normalize func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			path := r.URL.Path
			if normalize != nil {
				if p := normalize(r); p != "" {
					path = p
				}
			}
			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Marketplace metrics.
var (
	tasksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "market_tasks_created_total",
		Help: "Tasks created by verified companies.",
	})

	tasksCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "market_tasks_completed_total",
		Help: "Tasks verified and paid out.",
	})

	tokensDistributedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "market_tokens_distributed_total",
		Help: "Gross reward amount distributed, in minor units.",
	})

	guardRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_guard_rejections_total",
			Help: "Mutations rejected by the anti-fraud guard.",
		},
		[]string{"reason"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		tasksCreatedTotal, tasksCompletedTotal, tokensDistributedTotal, guardRejectionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// TaskCreated increments the created-task counter.
func TaskCreated() { tasksCreatedTotal.Inc() }

// TaskCompleted records a completed task and its gross reward.
func TaskCompleted(reward int64) {
	tasksCompletedTotal.Inc()
	tokensDistributedTotal.Add(float64(reward))
}

// GuardRejected records a guard rejection by reason label.
func GuardRejected(reason string) {
	guardRejectionsTotal.WithLabelValues(reason).Inc()
}

// idCollections are path segments whose next segment is a resource id.
// Ids are collapsed to keep metric label cardinality bounded.
var idCollections = map[string]bool{
	"tasks":     true,
	"accounts":  true,
	"companies": true,
	"students":  true,
}

// CanonicalPath normalizes a request path for use as a metric label:
// the query string is dropped and resource ids become ":id".
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(segs)-1; i++ {
		if idCollections[segs[i]] {
			segs[i+1] = ":id"
			break
		}
	}
	return "/" + strings.Join(segs, "/")
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

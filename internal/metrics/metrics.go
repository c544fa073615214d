package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	deletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_deletions_total",
		Help: "Delete requests by target kind and result",
	}, []string{"kind", "result"})

	deletedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_deleted_rows_total",
		Help: "Rows removed by committed deletes, by entity",
	}, []string{"entity"})

	deletionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_deletion_events_total",
		Help: "Deletion events published to the stream, by result",
	}, []string{"result"})

	coverCleanups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cover_cleanups_total",
		Help: "Cover objects removed after book deletion, by result",
	}, []string{"result"})
)

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	httpRequestDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
}

// ObserveDeletion counts a delete request and, when it committed, the rows it removed.
func ObserveDeletion(kind string, err error, users, companies, books int) {
	if err != nil {
		deletionsTotal.WithLabelValues(kind, "error").Inc()
		return
	}
	deletionsTotal.WithLabelValues(kind, "ok").Inc()
	deletedRowsTotal.WithLabelValues("user").Add(float64(users))
	deletedRowsTotal.WithLabelValues("company").Add(float64(companies))
	deletedRowsTotal.WithLabelValues("book").Add(float64(books))
}

func ObserveDeletionEvent(err error) {
	deletionEvents.WithLabelValues(result(err)).Inc()
}

func ObserveCoverCleanup(err error) {
	coverCleanups.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records request count and latency. routeOf maps a request to its
// registered pattern so path parameters do not explode label cardinality.
func Middleware(routeOf func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		route := routeOf(r)
		if route == "" {
			route = "unmatched"
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// Package metrics exposes Prometheus collectors for the crawler and its
// status server.
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
	serviceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wloc_requests_total",
			Help: "Total location service requests, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	serviceRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wloc_request_duration_seconds",
			Help:    "Histogram of location service round trips, labeled by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"outcome"},
	)

	crawlerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_workers",
			Help: "Number of workers currently querying a BSSID.",
		},
	)

	crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"key"},
	)

	frontierRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_frontier_records",
			Help: "Stored access point records, labeled by frontier state.",
		},
		[]string{"state"},
	)

	frontierMaxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_frontier_max_depth",
			Help: "Deepest hop count stored in the frontier.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// FrontierCounts is the subset of frontier statistics exported as gauges.
type FrontierCounts struct {
	Unprocessed int64
	Claimed     int64
	Processed   int64
	Located     int64
	MaxDepth    int
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveServiceRequest records one location service exchange.
func ObserveServiceRequest(outcome string, duration time.Duration) {
	serviceRequestsTotal.WithLabelValues(outcome).Inc()
	serviceRequestDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// SetFrontier publishes the latest frontier snapshot.
func SetFrontier(c FrontierCounts) {
	frontierRecords.WithLabelValues("unprocessed").Set(float64(c.Unprocessed))
	frontierRecords.WithLabelValues("claimed").Set(float64(c.Claimed))
	frontierRecords.WithLabelValues("processed").Set(float64(c.Processed))
	frontierRecords.WithLabelValues("located").Set(float64(c.Located))
	frontierMaxDepth.Set(float64(c.MaxDepth))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

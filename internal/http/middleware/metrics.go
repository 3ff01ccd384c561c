// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for the admin API. The path
// label is the registered Gin route (e.g. /api/v1/orders/:id/transitions) so
// order ids never become label values; unmatched requests fall back to the
// raw URL path.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderrelay_http_requests_total",
			Help: "Admin API requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	// No status label: keeps the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderrelay_http_request_duration_seconds",
			Help:    "Admin API request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderrelay_http_requests_inflight",
			Help: "Admin API requests currently being served.",
		},
	)

	// idempotentReplays counts order submissions answered from a previous
	// request with the same Idempotency-Key.
	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderrelay_http_idempotent_replays_total",
			Help: "Order submissions served as idempotent replays.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, idempotentReplays)
}

// Metrics returns a Gin middleware that counts and times every request.
// Mount promhttp.Handler() separately, e.g. on /metrics.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if IsReplay(c) {
			idempotentReplays.Inc()
		}
	}
}

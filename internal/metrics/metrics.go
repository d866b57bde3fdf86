// Package metrics provides Prometheus instrumentation for the position tracker.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReconcileTotal counts reconciliations by outcome (opened, closed, ignored, error).
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buysmart_reconcile_total",
		Help: "Swap reconciliations by outcome",
	}, []string{"outcome"})

	// ReconcileLatency measures a reconciliation from dequeue to callback.
	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "buysmart_reconcile_latency_seconds",
		Help:    "Swap reconciliation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SwapsDropped counts submissions rejected by the in-flight guard or dedup.
	SwapsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buysmart_swaps_dropped_total",
		Help: "Swap completion events dropped before reconciliation",
	}, []string{"reason"})

	// PositionsOpened counts positions opened, partitioned by side and origin.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buysmart_positions_opened_total",
		Help: "Positions opened",
	}, []string{"side", "origin"})

	// PositionsClosed counts positions closed, partitioned by side and origin.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buysmart_positions_closed_total",
		Help: "Positions closed",
	}, []string{"side", "origin"})

	// PriceFeedRequests counts spot-price lookups by provider and status.
	PriceFeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buysmart_price_feed_requests_total",
		Help: "Spot price requests",
	}, []string{"provider", "status"})

	PriceFeedLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buysmart_price_feed_latency_seconds",
		Help:    "Spot price request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "buysmart_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buysmart_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buysmart_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps position ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// Package metrics provides Prometheus instrumentation for the escrow engine.
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
	// TransfersTotal counts committed ledger movements, partitioned by kind
	// (asset, currency, distribute, issue, reclaim).
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transfers_total",
		Help: "Total number of committed ledger movements",
	}, []string{"kind"})

	// BidsTotal counts bid attempts by outcome.
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_bids_total",
		Help: "Total number of bids placed or rejected",
	}, []string{"result"})

	// SettlementsTotal counts auction closes and exchange settlements.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_settlements_total",
		Help: "Total number of listing settlements",
	}, []string{"kind", "result"})

	// ListingsActive tracks ongoing listings per kind. Refreshed by the auditor.
	ListingsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "escrow_listings_active",
		Help: "Number of currently ongoing listings",
	}, []string{"kind"})

	// OpLatency tracks service operation latency.
	OpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_op_latency_seconds",
		Help:    "Operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// StoreConflicts counts units of work rejected for stale reads.
	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_store_conflicts_total",
		Help: "Units of work rejected because their reads went stale",
	})

	// AuditViolations counts conservation checks that failed.
	AuditViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_audit_violations_total",
		Help: "Supply conservation violations found by the auditor",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Observe records the latency of op since start.
func Observe(op string, start time.Time) {
	OpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
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
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

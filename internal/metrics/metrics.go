// Package metrics provides Prometheus instrumentation for the wager engine.
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
	// BetsTotal counts accepted wagers, partitioned by side.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_bets_total",
		Help: "Total number of wagers placed",
	}, []string{"choice"})

	// BetRejections counts rejected wagers by reason.
	BetRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_bet_rejections_total",
		Help: "Wagers rejected by validation",
	}, []string{"reason"})

	// StakedTotal is the cumulative amount moved from balances into pools.
	StakedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_staked_units_total",
		Help: "Cumulative currency units staked",
	}, []string{"choice"})

	// BetLatency tracks PlaceBet latency.
	BetLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predicthub_bet_latency_seconds",
		Help:    "Bet placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ResolutionsTotal counts settled markets by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_resolutions_total",
		Help: "Markets resolved",
	}, []string{"outcome"})

	// PaidOutTotal is the cumulative amount credited to winners.
	PaidOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predicthub_paid_out_units_total",
		Help: "Cumulative currency units paid to winning wagers",
	})

	// RetainedTotal is what the house kept: rounding dust plus pools with
	// no winning wagers.
	RetainedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_retained_units_total",
		Help: "Cumulative currency units retained at settlement",
	}, []string{"reason"})

	// OpenMarkets tracks the number of open markets.
	OpenMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predicthub_open_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predicthub_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventPublishFailures counts events that could not be delivered.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_event_publish_failures_total",
		Help: "Domain events that failed to publish",
	}, []string{"type"})

	// NewsCacheHits counts news lookups by cache result.
	NewsCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_news_cache_lookups_total",
		Help: "News cache lookups partitioned by hit or miss",
	}, []string{"result"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predicthub_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predicthub_http_request_duration_seconds",
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

		// Route pattern keeps label cardinality bounded.
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
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

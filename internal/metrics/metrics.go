// Package metrics provides Prometheus instrumentation for the exchange engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/fixedrate-engine/internal/chain"
	"github.com/atmx/fixedrate-engine/internal/model"
)

var (
	// SwapsTotal counts committed swaps, partitioned by direction.
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fre_swaps_total",
		Help: "Total number of swaps executed",
	}, []string{"direction"})

	// SwapLatency is the end-to-end latency of a swap call.
	SwapLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fre_swap_latency_seconds",
		Help:    "Swap execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// BaseVolume tracks cumulative base token volume, in base units, per exchange.
	BaseVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fre_base_volume_total",
		Help: "Cumulative base token amount swapped, in base units",
	}, []string{"exchange_id", "direction"})

	// FeesCollected counts fee and custody collections by kind.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fre_fees_collected_total",
		Help: "Total number of fee and custody collections",
	}, []string{"kind"})

	// Exchanges tracks the number of exchanges ever created.
	Exchanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fre_exchanges",
		Help: "Number of exchanges",
	})

	// ActiveExchanges tracks the number of exchanges accepting swaps.
	ActiveExchanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fre_active_exchanges",
		Help: "Number of currently active exchanges",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fre_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// Rejections counts calls rejected by the engine, by error class.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fre_rejections_total",
		Help: "Calls rejected by the engine",
	}, []string{"reason"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fre_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fre_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Observe is a chain listener that updates counters from committed events.
func Observe(logs []chain.Log) {
	for _, l := range logs {
		ev, ok := l.Data.(*model.Event)
		if !ok {
			continue
		}
		switch ev.Type {
		case model.EventSwapped, model.EventDispensed, model.EventDevolved:
			dir := string(ev.Direction)
			SwapsTotal.WithLabelValues(dir).Inc()
			if ev.BaseAmount != nil {
				BaseVolume.WithLabelValues(ev.ExchangeID.Hex(), dir).Add(ev.BaseAmount.Float64())
			}
		case model.EventExchangeCreated:
			Exchanges.Inc()
			ActiveExchanges.Inc()
		case model.EventExchangeActivated:
			ActiveExchanges.Inc()
		case model.EventExchangeDeactivated:
			ActiveExchanges.Dec()
		case model.EventTokenCollected, model.EventMarketFeeCollected, model.EventOceanFeeCollected:
			FeesCollected.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

// Reject records a rejected call.
func Reject(class model.Class) {
	Rejections.WithLabelValues(ClassLabel(class)).Inc()
}

// ClassLabel names an error class for metric labels and API bodies.
func ClassLabel(class model.Class) string {
	switch class {
	case model.ClassValidation:
		return "validation"
	case model.ClassNotFound:
		return "not_found"
	case model.ClassAuthorization:
		return "authorization"
	case model.ClassSlippage:
		return "slippage"
	case model.ClassConflict:
		return "conflict"
	}
	return "other"
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

// Package metrics holds the Prometheus collectors of the authority process.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/protocol"
	"github.com/gosuda/appexplorer/internal/rpc"
)

const namespace = "appexplorer"

// Collector owns a private registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	Queries           *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	Connections       prometheus.Counter
	BoardsConnected   prometheus.Gauge
	StatusTransitions *prometheus.CounterVec
	StoreWriteErrors  prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates the collectors. cards, when non-nil, backs a gauge of stored cards.
func New(cards func() int) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.Queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Board queries by name and result.",
	}, []string{"name", "result"})
	c.QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Board query round-trip time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"name"})
	c.Connections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "board_connections_total",
		Help:      "Board channels accepted.",
	})
	c.BoardsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "boards_connected",
		Help:      "Boards with a live channel.",
	})
	c.StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "card_status_transitions_total",
		Help:      "Card status changes made by reconciliation.",
	}, []string{"status"})
	c.StoreWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_write_errors_total",
		Help:      "Durable card store writes that failed.",
	})
	c.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	c.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Queries,
		c.QueryDuration,
		c.Connections,
		c.BoardsConnected,
		c.StatusTransitions,
		c.StoreWriteErrors,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	if cards != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cards",
			Help:      "Cards across all stored boards.",
		}, func() float64 { return float64(cards()) }))
	}
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveQuery matches rpc.Observer.
func (c *Collector) ObserveQuery(name protocol.QueryName, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, rpc.ErrQueryTimeout):
		result = "timeout"
	case errors.Is(err, rpc.ErrChannelClosed):
		result = "closed"
	default:
		result = "error"
	}
	c.Queries.WithLabelValues(string(name), result).Inc()
	c.QueryDuration.WithLabelValues(string(name)).Observe(elapsed.Seconds())
}

// ObserveTransition counts a reconciled card's new status.
func (c *Collector) ObserveTransition(card domain.Card) {
	c.StatusTransitions.WithLabelValues(string(card.Status)).Inc()
}

// ObserveWriteError counts a failed durable write.
func (c *Collector) ObserveWriteError(string, error) {
	c.StoreWriteErrors.Inc()
}

// Middleware records request counts and latency keyed by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

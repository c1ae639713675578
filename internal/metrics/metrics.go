package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a thought leaves the board.
const (
	ReasonManual  = "manual"
	ReasonExpired = "expired"
	ReasonSwept   = "swept"
)

// Collector holds the service's Prometheus metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	added        prometheus.Counter
	removed      *prometheus.CounterVec
	live         prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		added: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thoughts_added_total",
			Help:      "Total number of thoughts added to the board",
		}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thoughts_removed_total",
			Help:      "Total number of thoughts removed, by reason",
		}, []string{"reason"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thoughts_live",
			Help:      "Number of thoughts currently on the board",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(c.added, c.removed, c.live, c.httpRequests)
	return c
}

func (c *Collector) ThoughtAdded() { c.added.Inc() }

func (c *Collector) ThoughtRemoved(reason string) { c.removed.WithLabelValues(reason).Inc() }

func (c *Collector) SetLive(n int) { c.live.Set(float64(n)) }

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware counts requests by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

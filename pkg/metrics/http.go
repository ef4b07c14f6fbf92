package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics instruments the API surface. The route label is the registered
// pattern, never the raw path, so cardinality stays bounded.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
	size     *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP metrics on the provided registerer.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return &HTTPMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "Current number of in-flight HTTP requests.",
	})
	size := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_response_size_bytes",
		Help: "Size of HTTP responses in bytes.",
		Buckets: []float64{
			200, 500, 1 << 10, 5 << 10,
			10 << 10, 50 << 10, 100 << 10,
			500 << 10, 1 << 20,
		},
	}, []string{"method", "route"})
	reg.MustRegister(requests, latency, inflight, size)
	return &HTTPMetrics{requests: requests, latency: latency, inflight: inflight, size: size}
}

// Start marks a request in flight. The returned func records the outcome.
func (m *HTTPMetrics) Start() func(method, route string, status, bytes int, d time.Duration) {
	if m == nil || m.requests == nil {
		return func(string, string, int, int, time.Duration) {}
	}
	m.inflight.Inc()
	return func(method, route string, status, bytes int, d time.Duration) {
		m.inflight.Dec()
		route = normalizeLabel(route)
		m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.latency.WithLabelValues(method, route).Observe(d.Seconds())
		if bytes >= 0 {
			m.size.WithLabelValues(method, route).Observe(float64(bytes))
		}
	}
}

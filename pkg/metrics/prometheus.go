package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder with prometheus counters.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	emitted    *prometheus.CounterVec
	dispatched *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	restarts   *prometheus.CounterVec
	matched    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registered against its own
// prometheus registry. Expose it with Handler().
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	r := &PrometheusRecorder{
		registry: registry,
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goingest_events_emitted_total",
			Help: "Events emitted by source adapters.",
		}, []string{"source", "kind"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goingest_events_dispatched_total",
			Help: "Events delivered to at least one handler.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goingest_events_dropped_total",
			Help: "Events that matched zero bindings.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goingest_handler_failures_total",
			Help: "Handler errors, panics and timeouts.",
		}, []string{"kind", "reason"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goingest_adapter_restarts_total",
			Help: "Adapter restarts performed by the manager.",
		}, []string{"source"}),
		matched: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goingest_matched_handlers",
			Help:    "Handlers matched per dispatched event.",
			Buckets: []float64{0, 1, 2, 5, 10, 25},
		}, []string{"kind"}),
	}

	registry.MustRegister(r.emitted, r.dispatched, r.dropped, r.failures, r.restarts, r.matched)
	return r
}

// Handler returns an http.Handler serving the recorder's metrics.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that aggregate
// multiple collectors onto one endpoint.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) EventEmitted(source, kind string) {
	r.emitted.WithLabelValues(source, kind).Inc()
}

func (r *PrometheusRecorder) EventDispatched(kind string, matched int) {
	r.dispatched.WithLabelValues(kind).Inc()
	r.matched.WithLabelValues(kind).Observe(float64(matched))
}

func (r *PrometheusRecorder) EventDropped(kind string) {
	r.dropped.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) HandlerFailure(kind, reason string) {
	r.failures.WithLabelValues(kind, reason).Inc()
}

func (r *PrometheusRecorder) AdapterRestart(source string) {
	r.restarts.WithLabelValues(source).Inc()
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the generation service.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	generationsTotal *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	generationTime   prometheus.Histogram
}

// NewMetrics creates and registers the service metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pianogen_requests_total",
		Help: "Total number of HTTP requests received",
	})
	generationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pianogen_generations_total",
		Help: "Total number of sequences generated, by model",
	}, []string{"model"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pianogen_generation_errors_total",
		Help: "Total number of failed generation requests, by reason",
	}, []string{"reason"})
	generationTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pianogen_generation_seconds",
		Help:    "Wall-clock time spent inside the generation engine",
		Buckets: prometheus.DefBuckets,
	})

	registry.MustRegister(requestsTotal, generationsTotal, errorsTotal, generationTime)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		generationsTotal: generationsTotal,
		errorsTotal:      errorsTotal,
		generationTime:   generationTime,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncGenerations counts a successful generation for a model.
func (m *Metrics) IncGenerations(model string) {
	m.generationsTotal.WithLabelValues(model).Inc()
}

// IncErrors counts a failed generation by reason.
func (m *Metrics) IncErrors(reason string) {
	m.errorsTotal.WithLabelValues(reason).Inc()
}

// ObserveGeneration records one engine run's duration in seconds.
func (m *Metrics) ObserveGeneration(seconds float64) {
	m.generationTime.Observe(seconds)
}

// Handler returns an http.Handler serving the Prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

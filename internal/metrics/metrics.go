// Package metrics exposes Prometheus instrumentation for the API and the
// asset authorizer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "droptracker"

// Metrics holds every collector the service records. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	LeaseRefreshes   *prometheus.CounterVec
	SignedURLs       *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"}),
		LeaseRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_lease_refreshes_total",
			Help:      "Asset store authorizations by outcome",
		}, []string{"outcome"}),
		SignedURLs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_signed_urls_total",
			Help:      "Signed asset URLs issued by outcome",
		}, []string{"outcome"}),
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transition requests by collection and outcome",
		}, []string{"collection", "outcome"}),
	}
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// LeaseRefreshed counts an authorization attempt against the asset store.
func (m *Metrics) LeaseRefreshed(ok bool) {
	if m == nil {
		return
	}
	m.LeaseRefreshes.WithLabelValues(outcome(ok)).Inc()
}

// SignedURLIssued counts a signing attempt.
func (m *Metrics) SignedURLIssued(ok bool) {
	if m == nil {
		return
	}
	m.SignedURLs.WithLabelValues(outcome(ok)).Inc()
}

// Transition counts a stage transition request.
func (m *Metrics) Transition(collection, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(collection, result).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
